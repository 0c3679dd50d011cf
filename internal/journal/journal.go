// Package journal keeps an optional audit trail of handled requests. It is
// written after a response has been produced and is never read back by the
// request path.
package journal

import (
	"context"
	"errors"

	"github.com/gettakaro/fcagent/internal/model"
)

// ErrNotFound is returned when an execution is not in the journal.
var ErrNotFound = errors.New("execution not found")

// DefaultListLimit bounds List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Store defines the persistence operations for execution records.
type Store interface {
	Record(ctx context.Context, e *model.Execution) error
	Get(ctx context.Context, id string) (*model.Execution, error)
	List(ctx context.Context, limit int) ([]*model.Execution, error)
	Close() error
}
