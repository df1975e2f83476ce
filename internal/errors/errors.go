// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned when GitHub reports its API quota exhausted.
// The current fetch loop is abandoned without partial writes; callers may
// retry after the quota resets.
var ErrRateLimited = errors.New("github API rate limit exceeded")

// ErrDateRangeTooWide is returned when a requested activity window cannot be
// satisfied because GitHub retains roughly one year of activity history.
type ErrDateRangeTooWide struct {
	Since time.Time
	Until time.Time
}

func (e *ErrDateRangeTooWide) Error() string {
	return fmt.Sprintf("date range %s..%s exceeds the available activity history",
		e.Since.Format("2006-01-02"), e.Until.Format("2006-01-02"))
}

// ErrNoSuchRepository is returned when an (owner, repo) identity cannot be
// resolved to a stored repository row.
type ErrNoSuchRepository struct {
	Owner string
	Name  string
}

func (e *ErrNoSuchRepository) Error() string {
	return fmt.Sprintf("no such repository: %s/%s", e.Owner, e.Name)
}
