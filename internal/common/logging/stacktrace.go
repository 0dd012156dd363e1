package logging

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const Stacktrace = "stacktrace"

// Unexported but considered part of the stable interface of pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStacktrace adds err to the entry and, when debug logging is enabled, the stack trace recorded
// where it was created.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	if !logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return logger
	}
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(Stacktrace, fmt.Sprintf("%+v", stack))
	}
	return logger
}

// ExtractStack returns the first stack trace found down the cause chain of err, or nil. For an
// aggregate of errors, such as the setup failures of one batch, the first error is followed.
func ExtractStack(err error) errors.StackTrace {
	for err != nil {
		switch e := err.(type) {
		case stackTracer:
			return e.StackTrace()
		case *multierror.Error:
			if len(e.Errors) == 0 {
				return nil
			}
			err = e.Errors[0]
		default:
			cause := errors.Unwrap(err)
			if cause == nil {
				return nil
			}
			err = cause
		}
	}
	return nil
}
