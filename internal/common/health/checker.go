package health

import "github.com/pkg/errors"

// Checker reports whether a dependency is usable. A nil error means healthy.
type Checker interface {
	Check() error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}

// Named prefixes failures of c with name.
func Named(name string, c Checker) Checker {
	return CheckerFunc(func() error {
		if err := c.Check(); err != nil {
			return errors.WithMessage(err, name)
		}
		return nil
	})
}
