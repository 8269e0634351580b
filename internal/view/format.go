package view

import (
	"github.com/dustin/go-humanize"

	"ryohi/internal/core"
)

// Badge is the visual treatment of a claim status.
type Badge struct {
	Label string
	Class string
	Raw   string // status value as stored
}

// FormatYen renders an amount as ¥ followed by comma-grouped digits.
func FormatYen(y core.Yen) string {
	if y < 0 {
		return "-¥" + humanize.Comma(-int64(y))
	}
	return "¥" + humanize.Comma(int64(y))
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(d core.Date) string {
	return d.String()
}

// StatusBadge maps a status to its badge. Anything that is not pending or
// approved gets the rejected treatment; Raw keeps the stored value so an
// unknown status is still visible in markup.
func StatusBadge(s core.Status) Badge {
	switch s {
	case core.StatusPending:
		return Badge{Label: "審査中", Class: "bg-warning", Raw: string(s)}
	case core.StatusApproved:
		return Badge{Label: "承認済", Class: "bg-success", Raw: string(s)}
	default:
		return Badge{Label: "却下", Class: "bg-danger", Raw: string(s)}
	}
}
