package communication

import (
	"context"
	"reflect"
)

// StatusCode is the application-level outcome carried next to every
// response body. Transport failures are reported as Go errors instead.
type StatusCode string

const (
	CodeOK            StatusCode = "OK"
	CodeBadRequest    StatusCode = "BAD_REQUEST"
	CodeNotFound      StatusCode = "NOT_FOUND"
	CodeAlreadyExists StatusCode = "ALREADY_EXISTS"
	CodeIsDirectory   StatusCode = "IS_DIRECTORY"
	CodeNotDirectory  StatusCode = "NOT_DIRECTORY"
	CodeNotEmpty      StatusCode = "NOT_EMPTY"
	CodeInvalid       StatusCode = "INVALID"
	CodeUnavailable   StatusCode = "UNAVAILABLE"
	CodeInternal      StatusCode = "INTERNAL"
)

// MaxMessageSize bounds one encoded request or response on the wire. Byte
// payloads grow by a third when JSON-encoded, so transfers are capped
// well below it.
const MaxMessageSize = 64 << 20

type Message struct {
	From    string
	Type    string
	Payload any
}

type Response struct {
	Code    StatusCode
	Body    []byte
	Headers map[string]string
}

type Communicator interface {
	Start(handler MessageHandler) error
	Stop() error
	Send(ctx context.Context, to string, msg Message) (*Response, error)
	RegisterPayloadType(msgType string, payloadType reflect.Type)
	Address() string
}
