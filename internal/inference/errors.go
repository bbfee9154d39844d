package inference

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotInitialized = errors.New("classifier is not initialized")
	ErrNoImage        = errors.New("no image file provided")
	ErrDecode         = errors.New("image decode failed")
	ErrPredict        = errors.New("prediction failed")
	ErrTimeout        = errors.New("prediction timed out")
)

// wrap tags err with one of the sentinel kinds above and records a stack.
func wrap(kind error, err error) error {
	return errors.WithStack(fmt.Errorf("%w: %w", kind, err))
}

// Traceback renders err with the stack recorded where it was wrapped.
func Traceback(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}
