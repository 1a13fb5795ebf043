// Package errors defines the domain error type shared by every layer of the
// node. An error carries the domain that raised it (transaction, storage,
// queue, api), a machine-readable code, and the operation that failed. Codes
// survive wrapping, so the API can map any error chain onto an HTTP status
// and clients can rebuild it from the response body.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sprintf is fmt.Sprintf, so callers building messages need one import.
func Sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("concurrent modification")
)

func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(message string) error      { return errors.New(message) }
func Join(errs ...error) error      { return errors.Join(errs...) }
func Unwrap(err error) error        { return errors.Unwrap(err) }

// Error is a domain error.
type Error struct {
	Original  error
	Domain    string
	Code      string
	Message   string
	Operation string
	Fields    map[string]interface{}
	Stack     string
}

// Error formats as "[domain.Operation] Code=CODE: message: original".
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteByte('[')
	sb.WriteString(e.Domain)
	if e.Domain != "" && e.Operation != "" {
		sb.WriteByte('.')
	}
	sb.WriteString(e.Operation)
	sb.WriteString("] ")

	if e.Code != "" {
		sb.WriteString("Code=" + e.Code + ": ")
	}
	sb.WriteString(e.Message)
	if e.Original != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Original.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Original }

// newError is the constructor behind every domain helper.
func newError(domain, operation, code, message string, cause error) *Error {
	return &Error{Domain: domain, Operation: operation, Code: code, Message: message, Original: cause}
}

// wrapError is newError for wrapping helpers: a nil cause stays nil.
func wrapError(domain, operation, code, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return newError(domain, operation, code, message, cause)
}

// annotate returns a copy of the outermost domain error in err's chain, or a
// new domain error wrapping err, for f to modify. Shared errors are never
// mutated.
func annotate(err error, f func(*Error)) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		c := *e
		if e.Fields != nil {
			c.Fields = make(map[string]interface{}, len(e.Fields)+1)
			for k, v := range e.Fields {
				c.Fields[k] = v
			}
		}
		e = &c
	} else {
		e = &Error{Original: err}
	}
	f(e)
	return e
}

// Wrap replaces the message of err's outermost domain error.
func Wrap(err error, message string) error {
	return annotate(err, func(e *Error) { e.Message = message })
}

func WrapWithOperation(err error, operation string) error {
	return annotate(err, func(e *Error) { e.Operation = operation })
}

func WrapWithCode(err error, code string) error {
	return annotate(err, func(e *Error) { e.Code = code })
}

func WrapWithField(err error, key string, value interface{}) error {
	return annotate(err, func(e *Error) {
		if e.Fields == nil {
			e.Fields = make(map[string]interface{}, 1)
		}
		e.Fields[key] = value
	})
}

// WithStack records the caller's stack on err unless it already has one.
func WithStack(err error) error {
	var existing *Error
	if errors.As(err, &existing) && existing.Stack != "" {
		return err
	}

	var pcs [32]uintptr
	n := runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var stack strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&stack, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return annotate(err, func(e *Error) { e.Stack = stack.String() })
}

// E builds a domain error from its arguments. Strings fill Message, Domain,
// Operation and Code in that order; an error becomes Original and a map
// becomes Fields.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	slots := []*string{&e.Message, &e.Domain, &e.Operation, &e.Code}
	for _, arg := range args {
		switch a := arg.(type) {
		case string:
			for _, slot := range slots {
				if *slot == "" {
					*slot = a
					break
				}
			}
		case error:
			e.Original = a
		case map[string]interface{}:
			e.Fields = a
		}
	}
	return e
}

// Coded returns the outermost domain error in err's chain that carries a
// code. Wrappers without a code defer to what they wrap.
func Coded(err error) *Error {
	var found *Error
	walk(err, func(e *Error) bool {
		if e.Code != "" {
			found = e
			return true
		}
		return false
	})
	return found
}

// CodeOf returns the code of Coded(err), or "".
func CodeOf(err error) string {
	if coded := Coded(err); coded != nil {
		return coded.Code
	}
	return ""
}

// DomainOf returns the domain of the outermost domain error in err's chain.
func DomainOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Domain
	}
	return ""
}

// hasCode reports whether any domain error in err's chain carries domain and code.
func hasCode(err error, domain, code string) bool {
	return walk(err, func(e *Error) bool { return e.Domain == domain && e.Code == code })
}

// walk visits the domain errors in err's chain, outermost first, until visit
// returns true.
func walk(err error, visit func(*Error) bool) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if visit(e) {
			return true
		}
		err = e.Original
	}
	return false
}
