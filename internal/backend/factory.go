package backend

import (
	"context"
	"fmt"
	"io"

	"ryohi/internal/amqp"
	"ryohi/internal/log"
	"ryohi/internal/memory"
	"ryohi/internal/ports"
	"ryohi/internal/services"
	"ryohi/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger

	// dialAMQP is replaced in tests.
	dialAMQP func(url, exchange, queue string) (*amqp.Client, error)
}

func NewFactory(logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger:   logger.WithComponent(log.ComponentBackend),
		dialAMQP: amqp.NewClient,
	}
}

var _ Factory = (*DefaultFactory)(nil)

// CreateBackend opens the configured store and wraps it in an
// ExpenseService. An unreachable broker is logged and the service runs
// without publishing.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	repo, storeCloser, err := f.openStore(config)
	if err != nil {
		return nil, err
	}

	var (
		publisher services.EventPublisher
		client    *amqp.Client
	)
	if config.AMQPURL != "" {
		client, err = f.dialAMQP(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
			client = nil
		} else {
			publisher = client
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	svc := services.NewExpenseService(repo, publisher, f.logger)
	if client != nil {
		svc.OnClose(client)
	}
	if storeCloser != nil {
		svc.OnClose(storeCloser)
	}

	f.logger.InfoContext(ctx, "Initialized backend", "type", config.Type.String())
	return &BackendResult{
		Service: svc,
		Cleanup: svc.Close,
	}, nil
}

func (f *DefaultFactory) openStore(config Config) (ports.Repository, io.Closer, error) {
	switch config.Type {
	case MemoryBackend:
		if config.MemorySeedFile != "" {
			f.logger.Info("Seeding memory backend", "file", config.MemorySeedFile)
			return memory.NewFromFile(config.MemorySeedFile), nil, nil
		}
		return memory.New(), nil, nil

	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Opened SQLite database", "db_path", config.SQLiteDBPath)
		return repo, repo, nil

	case BoltBackend:
		repo, err := storage.NewBoltRepository(config.BoltDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize bbolt repository: %w", err)
		}
		f.logger.Info("Opened bbolt database", "db_path", config.BoltDBPath)
		return repo, repo, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
