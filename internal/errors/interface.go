// Package errors provides coded application errors. Every package declares
// its codes in its own errors.go; callers branch on codes with HasCode and
// never on message text.
package errors

type ErrorCode string

// Error is an application error with a code and optional context. Two
// errors with the same code match under errors.Is.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
	Is(target error) bool
}

// Factory creates coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
