package engine

import (
	"context"
	"fmt"

	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

// Command operations.
const (
	OpSet       = "set"
	OpAddRow    = "add_row"
	OpRemoveRow = "remove_row"
	OpSetRows   = "set_rows"
	OpSubmit    = "submit"
	OpNext      = "next"
	OpPrev      = "prev"
	OpValidate  = "validate"
)

// Command is one user action coming from the rendering layer.
type Command struct {
	Op     string   `json:"op" msgpack:"op"`
	Key    string   `json:"key,omitempty" msgpack:"key,omitempty"`
	Value  any      `json:"value,omitempty" msgpack:"value,omitempty"`
	Handle string   `json:"handle,omitempty" msgpack:"handle,omitempty"`
	Index  int      `json:"index,omitempty" msgpack:"index,omitempty"`
	Count  int      `json:"count,omitempty" msgpack:"count,omitempty"`
	Keys   []string `json:"keys,omitempty" msgpack:"keys,omitempty"`
}

// Dispatch applies cmd. It reports whether the command changed anything:
// a row was added, a submit ran, the wizard moved, the validated keys are
// valid. Errors are reserved for malformed commands.
func (f *Form) Dispatch(ctx context.Context, cmd Command) (bool, error) {
	f.logger.Debug("command", logging.String("op", cmd.Op))

	switch cmd.Op {
	case OpSet:
		if cmd.Key == "" {
			return false, ErrMissingTarget
		}
		if _, ok := f.state.Value(cmd.Key); !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownField, cmd.Key)
		}
		f.state.SetValue(cmd.Key, cmd.Value)
		return true, nil

	case OpAddRow:
		if cmd.Handle == "" {
			return false, ErrMissingTarget
		}
		return f.state.AddGridRow(cmd.Handle), nil

	case OpRemoveRow:
		if cmd.Handle == "" {
			return false, ErrMissingTarget
		}
		return f.state.RemoveGridRow(cmd.Handle, cmd.Index), nil

	case OpSetRows:
		if cmd.Handle == "" {
			return false, ErrMissingTarget
		}
		return f.state.SetGridRowCount(cmd.Handle, cmd.Count), nil

	case OpSubmit:
		return f.submit.Submit(ctx), nil

	case OpNext:
		if f.wizard == nil {
			return false, ErrNotMultiStep
		}
		return f.wizard.GoNext(ctx), nil

	case OpPrev:
		if f.wizard == nil {
			return false, ErrNotMultiStep
		}
		return f.wizard.GoPrev(), nil

	case OpValidate:
		switch {
		case len(cmd.Keys) > 0:
			return f.submit.ValidateOnly(ctx, cmd.Keys)
		case cmd.Key != "":
			f.submit.ValidateField(cmd.Key)
			return true, nil
		}
		return false, ErrMissingTarget
	}

	return false, fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
}
