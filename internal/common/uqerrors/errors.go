// Package uqerrors contains the error types shared by the dispatcher. Callers inspect them with
// errors.As rather than by matching on messages.
//
// If multiple errors occur in some function (e.g., several jobs of a batch failing their setup), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package uqerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "job" or "resource"
	Value   string // Resource name, e.g., "batch 1 job 3"
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
type ErrAlreadyExists struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "maxConcurrent"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrSetup is returned when the working directories or files of a job could not be prepared.
// A setup failure aborts the whole evaluation; it is never recorded as a failed job.
type ErrSetup struct {
	JobId int
	Op    string // e.g. "mkdir", "write input"
	Err   error
}

func (err *ErrSetup) Error() string {
	return fmt.Sprintf("setup of job %d failed during %s: %v", err.JobId, err.Op, err.Err)
}

func (err *ErrSetup) Unwrap() error {
	return err.Err
}

// ErrSubmission is returned once all submission attempts of a job have been used up.
type ErrSubmission struct {
	JobId    int
	Attempts int
	Err      error
}

func (err *ErrSubmission) Error() string {
	return fmt.Sprintf("job %d could not be submitted after %d attempts: %v", err.JobId, err.Attempts, err.Err)
}

func (err *ErrSubmission) Unwrap() error {
	return err.Err
}

// ErrRemoteCommand describes a command that ran (locally or over ssh) but reported failure.
type ErrRemoteCommand struct {
	Host     string // empty for local commands
	Command  string
	ExitCode int
	Stderr   string
}

func (err *ErrRemoteCommand) Error() string {
	where := "locally"
	if err.Host != "" {
		where = "on " + err.Host
	}
	if err.Stderr != "" {
		return fmt.Sprintf("command %q %s exited with code %d: %s", err.Command, where, err.ExitCode, err.Stderr)
	}
	return fmt.Sprintf("command %q %s exited with code %d", err.Command, where, err.ExitCode)
}

// ErrInvalidTransition is returned when a job is asked to move between two states that the
// lifecycle does not connect.
type ErrInvalidTransition struct {
	JobId int
	From  string
	To    string
}

func (err *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("job %d cannot move from %s to %s", err.JobId, err.From, err.To)
}

// IsSetup returns true if the error, or any error it wraps, is an ErrSetup.
func IsSetup(err error) bool {
	var e *ErrSetup
	return errors.As(err, &e)
}

// IsRetryable reports whether a submission error is worth retrying. Invalid arguments and setup
// failures will not go away by submitting again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return false
		}
	}
	{
		var e *ErrSetup
		if errors.As(err, &e) {
			return false
		}
	}
	return true
}
