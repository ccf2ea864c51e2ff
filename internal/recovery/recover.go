// Package recovery keeps one failing unit of work from taking down a batch.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/logging"
)

// ErrPanic wraps a panic recovered from a unit of work.
var ErrPanic = errs.Class("panic")

// Guard runs fn and converts a panic inside it into an ErrPanic error.
func Guard(logger logging.Logger, unit string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic recovered", "unit", unit, "error", rec, "stack", string(debug.Stack()))
			err = ErrPanic.New("%s: %v", unit, fmt.Sprint(rec))
		}
	}()
	return fn()
}
