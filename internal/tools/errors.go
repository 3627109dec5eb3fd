package tools

import (
	"errors"
	"fmt"

	"github.com/rahul/taskmesh/internal/plan"
)

// ValidationError reports malformed action parameters found before any work
// was done. The scheduler fails such actions without retrying.
type ValidationError struct {
	ActionID string
	Type     plan.ActionType
	Msg      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s action %q: %s", e.Type, e.ActionID, e.Msg)
}

// Invalidf builds a ValidationError for action.
func Invalidf(action *plan.Action, format string, args ...any) error {
	return &ValidationError{ActionID: action.ID, Type: action.Type, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// requireParams returns a ValidationError naming the first missing parameter.
func requireParams(action *plan.Action, keys ...string) error {
	for _, k := range keys {
		if action.Param(k) == "" {
			return Invalidf(action, "missing parameter %q", k)
		}
	}
	return nil
}
