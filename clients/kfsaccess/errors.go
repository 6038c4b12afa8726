package kfsaccess

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AnishMulay/kfsaccess/internal/communication"
)

// Kind classifies a failed call.
type Kind int

const (
	KindIOError Kind = iota
	KindNotFound
	KindAlreadyExists
	KindIsADirectory
	KindIsAFile
	KindNotEmpty
	KindInvalidArgument
	KindConnectionError
	KindInvalidState
)

var (
	ErrNotFound        = errors.New("no such file or directory")
	ErrAlreadyExists   = errors.New("file exists")
	ErrIsADirectory    = errors.New("is a directory")
	ErrIsAFile         = errors.New("not a directory")
	ErrNotEmpty        = errors.New("directory not empty")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIO              = errors.New("i/o error")
	ErrConnection      = errors.New("connection error")
	ErrInvalidState    = errors.New("handle is closed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindIsADirectory:
		return ErrIsADirectory
	case KindIsAFile:
		return ErrIsAFile
	case KindNotEmpty:
		return ErrNotEmpty
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindConnectionError:
		return ErrConnection
	case KindInvalidState:
		return ErrInvalidState
	default:
		return ErrIO
	}
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindIsADirectory:
		return "IsADirectory"
	case KindIsAFile:
		return "IsAFile"
	case KindNotEmpty:
		return "NotEmpty"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindConnectionError:
		return "ConnectionError"
	case KindInvalidState:
		return "InvalidState"
	default:
		return "IOError"
	}
}

// Error is returned by every facade and handle call that fails.
// errors.Is matches it against the sentinel of its Kind as well as
// anything in the wrapped chain.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.sentinel().Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf reports the Kind of err, or KindIOError for errors that did not
// come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIOError
}

func newError(op, path string, kind Kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// kindForCode maps a metaserver status code onto the client taxonomy.
func kindForCode(code communication.StatusCode) Kind {
	switch code {
	case communication.CodeNotFound:
		return KindNotFound
	case communication.CodeAlreadyExists:
		return KindAlreadyExists
	case communication.CodeIsDirectory:
		return KindIsADirectory
	case communication.CodeNotDirectory:
		return KindIsAFile
	case communication.CodeNotEmpty:
		return KindNotEmpty
	case communication.CodeInvalid, communication.CodeBadRequest:
		return KindInvalidArgument
	default:
		return KindIOError
	}
}

func responseError(op, path string, resp *communication.Response) *Error {
	if resp == nil {
		return newError(op, path, KindIOError, errors.New("empty response"))
	}
	body := strings.TrimSpace(string(resp.Body))
	if body == "" {
		body = string(resp.Code)
	}
	return newError(op, path, kindForCode(resp.Code), errors.New(body))
}

func transportError(op, path string, err error) *Error {
	switch {
	case errors.Is(err, communication.ErrConnectionFailed),
		errors.Is(err, communication.ErrClientCreateFailed),
		errors.Is(err, context.DeadlineExceeded):
		return newError(op, path, KindConnectionError, err)
	default:
		return newError(op, path, KindIOError, err)
	}
}
