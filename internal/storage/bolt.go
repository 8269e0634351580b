package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"ryohi/internal/core"
	"ryohi/internal/ports"
)

const expensesBucket = "expenses"

// BoltRepository stores claims as JSON documents in a single bbolt bucket,
// keyed by the big-endian bucket sequence.
type BoltRepository struct {
	db  *bbolt.DB
	now func() time.Time
}

type boltRecord struct {
	ID          int64     `json:"id"`
	UserName    string    `json:"user_name"`
	Date        string    `json:"date"`
	Destination string    `json:"destination"`
	Purpose     string    `json:"purpose"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewBoltRepository opens (or creates) the database file at path.
func NewBoltRepository(path string) (*BoltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(expensesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltRepository{db: db, now: time.Now}, nil
}

func (b *BoltRepository) Close() error {
	return b.db.Close()
}

func (b *BoltRepository) Create(_ context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expensesBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		now := b.now().UTC()
		rec := boltRecord{
			ID:          id,
			UserName:    e.UserName,
			Date:        e.Date.String(),
			Destination: e.Destination,
			Purpose:     e.Purpose,
			Amount:      e.Amount.Int64(),
			Status:      e.Status.String(),
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return putRecord(bucket, rec)
	})
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}
	return id, nil
}

func (b *BoltRepository) ListExpenses(_ context.Context, f ports.ListFilter) ([]core.Expense, error) {
	out := make([]core.Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expensesBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			e, err := rec.toDomain()
			if err != nil {
				return err
			}
			if f.Matches(e) {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	core.SortNewestFirst(out)
	return out, nil
}

func (b *BoltRepository) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	var rec boltRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(expensesBucket)).Get(itob(id))
		if data == nil {
			return ports.ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return core.Expense{}, err
	}
	return rec.toDomain()
}

func (b *BoltRepository) UpdateStatus(_ context.Context, id int64, status core.Status) (core.Expense, error) {
	var rec boltRecord
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expensesBucket))
		data := bucket.Get(itob(id))
		if data == nil {
			return ports.ErrNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshaling expense: %w", err)
		}
		if rec.Status != core.StatusPending.String() {
			return ports.ErrNotPending
		}
		rec.Status = status.String()
		rec.Version++
		rec.UpdatedAt = b.now().UTC()
		return putRecord(bucket, rec)
	})
	if err != nil {
		return core.Expense{}, err
	}
	return rec.toDomain()
}

func putRecord(bucket *bbolt.Bucket, rec boltRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling expense: %w", err)
	}
	return bucket.Put(itob(rec.ID), data)
}

func (rec boltRecord) toDomain() (core.Expense, error) {
	d, err := core.ParseDate(rec.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d: %w", rec.ID, err)
	}
	return core.Expense{
		ID:          rec.ID,
		UserName:    rec.UserName,
		Date:        d,
		Destination: rec.Destination,
		Purpose:     rec.Purpose,
		Amount:      core.Yen(rec.Amount),
		Status:      core.Status(rec.Status),
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
