package repo

import (
	"errors"
	"fmt"

	"github.com/animus-labs/ailab/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// StatusError reports a compare-and-set rejected because the run was in
// Status. It matches ErrPreconditionFailed with errors.Is.
type StatusError struct {
	RunID  string
	Status domain.RunStatus
	Want   []domain.RunStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("run %s is %s, want one of %v", e.RunID, e.Status, e.Want)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrPreconditionFailed
}
