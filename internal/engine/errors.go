package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidParam
	KindModelLoadFailed
	KindOutOfMemory
	KindMultimodalNotSupported
	KindLoRALoadFailed
	KindLoRANotFound
	KindGrammarInitFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParam:
		return "invalid-param"
	case KindModelLoadFailed:
		return "model-load-failed"
	case KindOutOfMemory:
		return "out-of-memory"
	case KindMultimodalNotSupported:
		return "multimodal-not-supported"
	case KindLoRALoadFailed:
		return "lora-load-failed"
	case KindLoRANotFound:
		return "lora-not-found"
	case KindGrammarInitFailed:
		return "grammar-init-failed"
	default:
		return "unknown"
	}
}

// Code returns the numeric status used across FFI boundaries.
func (k Kind) Code() int {
	switch k {
	case KindInvalidParam:
		return -2
	case KindModelLoadFailed:
		return -3
	case KindOutOfMemory:
		return -4
	case KindMultimodalNotSupported:
		return -5
	case KindLoRALoadFailed:
		return -6
	case KindLoRANotFound:
		return -7
	case KindGrammarInitFailed:
		return -8
	default:
		return -1
	}
}

// Error is returned by every failing engine operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := "engine"
	if e.Op != "" {
		s += ": " + e.Op
	}
	s += ": " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the same kind, so errors.Is(err, ErrLoRANotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnknown                = &Error{Kind: KindUnknown}
	ErrInvalidParam           = &Error{Kind: KindInvalidParam}
	ErrModelLoadFailed        = &Error{Kind: KindModelLoadFailed}
	ErrOutOfMemory            = &Error{Kind: KindOutOfMemory}
	ErrMultimodalNotSupported = &Error{Kind: KindMultimodalNotSupported}
	ErrLoRALoadFailed         = &Error{Kind: KindLoRALoadFailed}
	ErrLoRANotFound           = &Error{Kind: KindLoRANotFound}
	ErrGrammarInitFailed      = &Error{Kind: KindGrammarInitFailed}
)

// KindOf returns the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an engine error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func errorf(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func wrap(k Kind, op string, err error, msg string) *Error {
	return &Error{Kind: k, Op: op, Msg: msg, Err: err}
}
