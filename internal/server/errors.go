package server

import (
	"errors"
	"fmt"

	"github.com/eternalApril/lunakv/internal/glob"
	"github.com/eternalApril/lunakv/internal/resp"
	"github.com/eternalApril/lunakv/internal/storage"
)

// ErrorKind classifies command failures. None of them is fatal for the connection
type ErrorKind uint8

const (
	KindWrongType ErrorKind = iota + 1
	KindInvalidArgument
	KindOverflow
	KindPreconditionFailed
	KindUnknownCommand
)

func (k ErrorKind) String() string {
	switch k {
	case KindWrongType:
		return "wrong_type"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindOverflow:
		return "overflow"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindUnknownCommand:
		return "unknown_command"
	}
	return "unknown"
}

// CommandError is the typed error returned by Engine.Exec
type CommandError struct {
	Kind ErrorKind
	Msg  string
	Err  error // underlying storage error, if any
}

func (e *CommandError) Error() string {
	return e.Msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches any CommandError of the same kind, so the sentinels below work with errors.Is
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	return ok && t.Kind == e.Kind
}

var (
	ErrWrongType          = &CommandError{Kind: KindWrongType, Msg: "Operation against a key holding the wrong kind of value"}
	ErrInvalidArgument    = &CommandError{Kind: KindInvalidArgument, Msg: "invalid argument"}
	ErrOverflow           = &CommandError{Kind: KindOverflow, Msg: "increment or decrement would overflow"}
	ErrPreconditionFailed = &CommandError{Kind: KindPreconditionFailed, Msg: "precondition failed"}
	ErrUnknownCommand     = &CommandError{Kind: KindUnknownCommand, Msg: "unknown command"}

	errSyntax     = invalidArgument("syntax error")
	errNotInteger = invalidArgument("value is not an integer or out of range")
)

func invalidArgument(format string, args ...any) *CommandError {
	return &CommandError{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func wrongArity(name string) *CommandError {
	return invalidArgument("wrong number of arguments for '%s' command", name)
}

// classify maps storage and glob sentinels onto command error kinds
func classify(err error) *CommandError {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, storage.ErrWrongType):
		return &CommandError{Kind: KindWrongType, Msg: ErrWrongType.Msg, Err: err}
	case errors.Is(err, storage.ErrNotInteger):
		return &CommandError{Kind: KindInvalidArgument, Msg: errNotInteger.Msg, Err: err}
	case errors.Is(err, storage.ErrOverflow):
		return &CommandError{Kind: KindOverflow, Msg: ErrOverflow.Msg, Err: err}
	case errors.Is(err, glob.ErrBadPattern):
		return &CommandError{Kind: KindInvalidArgument, Msg: "invalid pattern: " + err.Error(), Err: err}
	}

	return &CommandError{Kind: KindInvalidArgument, Msg: err.Error(), Err: err}
}

// render turns a command error into the reply a RESP client expects
func render(err *CommandError) resp.Value {
	switch err.Kind {
	case KindPreconditionFailed:
		// SET NX/XX answers a failed condition with a nil reply
		return resp.MakeNilBulkString()
	case KindWrongType:
		return resp.MakeError("WRONGTYPE " + err.Msg)
	}
	return resp.MakeError("ERR " + err.Msg)
}
