package driver

import (
	"errors"
	"time"

	"github.com/xkilldash9x/tgbench/api/schemas"
)

// OpError marks a failure of the automation channel itself (CDP call failed,
// target crashed, websocket dropped). Implementations wrap channel failures in it
// so callers can tell them apart from their own logic errors.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return "driver " + e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

// IsFault reports whether err came from the automation channel.
func IsFault(err error) bool {
	var op *OpError
	return errors.As(err, &op) || errors.Is(err, ErrNodeDetached) || errors.Is(err, ErrSessionClosed)
}

// Classify converts automation-channel failures into a DriverFault detection error.
// Detection errors and anything unrecognized (including context errors) pass through unchanged.
func Classify(op string, elapsed time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if schemas.KindOf(err) != "" {
		return err
	}
	if IsFault(err) {
		return schemas.DriverFault(op, elapsed, err)
	}
	return err
}
