package grpccomm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/AnishMulay/kfsaccess/internal/communication"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
	"go.uber.org/multierr"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	headerFrom = "x-kfs-from"
	headerType = "x-kfs-type"
	headerCode = "x-kfs-code"

	// Response headers set by handlers travel with this prefix.
	headerUserPrefix = "x-kfs-h-"
)

type GRPCCommunicator struct {
	mu            sync.RWMutex
	listenAddress string
	handler       communication.MessageHandler
	grpcServer    *grpc.Server
	ls            log_service.LogService

	clientLock sync.RWMutex
	clients    map[string]*grpc.ClientConn

	payloadLock  sync.RWMutex
	payloadTypes map[string]reflect.Type

	stopped   bool
	stopMutex sync.Mutex
}

func NewGRPCCommunicator(addr string, ls log_service.LogService) *GRPCCommunicator {
	return &GRPCCommunicator{
		listenAddress: addr,
		ls:            ls,
		clients:       make(map[string]*grpc.ClientConn),
		payloadTypes:  make(map[string]reflect.Type),
	}
}

// Address returns the bound address once Start has run, so ":0" resolves to
// the port picked by the kernel.
func (c *GRPCCommunicator) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listenAddress
}

func (c *GRPCCommunicator) RegisterPayloadType(msgType string, payloadType reflect.Type) {
	c.payloadLock.Lock()
	defer c.payloadLock.Unlock()
	c.payloadTypes[msgType] = payloadType
}

func (c *GRPCCommunicator) payloadType(msgType string) (reflect.Type, bool) {
	c.payloadLock.RLock()
	defer c.payloadLock.RUnlock()
	t, ok := c.payloadTypes[msgType]
	return t, ok
}

func (c *GRPCCommunicator) Start(handler communication.MessageHandler) error {
	c.ls.Info(log_service.LogEvent{
		Message:  "Starting GRPC communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	lis, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %s: %v", communication.ErrGRPCListenFailed, c.listenAddress, err)
	}

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(communication.MaxMessageSize),
		grpc.MaxSendMsgSize(communication.MaxMessageSize),
	)
	srv.RegisterService(&messageServiceDesc, &grpcServer{comm: c})

	c.mu.Lock()
	c.handler = handler
	c.listenAddress = lis.Addr().String()
	c.grpcServer = srv
	c.mu.Unlock()

	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator started successfully",
		Metadata: map[string]any{"address": lis.Addr().String()},
	})

	go func() {
		if err := srv.Serve(lis); err != nil {
			c.ls.Error(log_service.LogEvent{
				Message:  "GRPC server error",
				Metadata: map[string]any{"address": lis.Addr().String(), "error": err.Error()},
			})
		}
	}()
	return nil
}

func (c *GRPCCommunicator) Stop() error {
	c.stopMutex.Lock()
	defer c.stopMutex.Unlock()

	addr := c.Address()
	if c.stopped {
		c.ls.Debug(log_service.LogEvent{
			Message:  "GRPC communicator already stopped, skipping",
			Metadata: map[string]any{"address": addr},
		})
		return nil
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Stopping GRPC communicator",
		Metadata: map[string]any{"address": addr},
	})

	c.mu.RLock()
	srv := c.grpcServer
	c.mu.RUnlock()
	if srv != nil {
		srv.GracefulStop()
	}

	var err error
	c.clientLock.Lock()
	for addr, conn := range c.clients {
		err = multierr.Append(err, conn.Close())
		delete(c.clients, addr)
	}
	c.clientLock.Unlock()

	c.stopped = true
	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator stopped successfully",
		Metadata: map[string]any{"address": addr},
	})

	return err
}

func (c *GRPCCommunicator) conn(to string) (*grpc.ClientConn, error) {
	c.clientLock.RLock()
	conn, ok := c.clients[to]
	c.clientLock.RUnlock()
	if ok {
		return conn, nil
	}

	c.clientLock.Lock()
	defer c.clientLock.Unlock()
	if conn, ok := c.clients[to]; ok {
		return conn, nil
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "Creating new GRPC client",
		Metadata: map[string]any{"to": to},
	})

	conn, err := grpc.NewClient(to,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(communication.MaxMessageSize),
			grpc.MaxCallSendMsgSize(communication.MaxMessageSize),
		),
	)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to create GRPC client",
			Metadata: map[string]any{"to": to, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrClientCreateFailed, err)
	}
	c.clients[to] = conn
	return conn, nil
}

func (c *GRPCCommunicator) dropConn(to string, conn *grpc.ClientConn) {
	c.clientLock.Lock()
	if cur, ok := c.clients[to]; ok && cur == conn {
		delete(c.clients, to)
	}
	c.clientLock.Unlock()
	_ = conn.Close()
}

// Dial establishes the connection to `to` and blocks until it is ready. A
// transient failure or ctx expiry yields ErrConnectionFailed.
func (c *GRPCCommunicator) Dial(ctx context.Context, to string) error {
	conn, err := c.conn(to)
	if err != nil {
		return err
	}

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			c.dropConn(to, conn)
			return fmt.Errorf("%w: %s is %s", communication.ErrConnectionFailed, to, state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			c.dropConn(to, conn)
			return fmt.Errorf("%w: %s: %v", communication.ErrConnectionFailed, to, ctx.Err())
		}
	}
}

func (c *GRPCCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	c.ls.Debug(log_service.LogEvent{
		Message:  "Sending GRPC message",
		Metadata: map[string]any{"to": to, "type": msg.Type, "from": msg.From},
	})

	conn, err := c.conn(to)
	if err != nil {
		return nil, err
	}

	var payloadBytes []byte
	if msg.Payload != nil {
		payloadBytes, err = json.Marshal(msg.Payload)
		if err != nil {
			c.ls.Error(log_service.LogEvent{
				Message:  "Failed to marshal payload",
				Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
			})
			return nil, fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
		}
	}

	ctx = metadata.AppendToOutgoingContext(ctx, headerFrom, msg.From, headerType, msg.Type)

	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, sendMessageMethod, wrapperspb.Bytes(payloadBytes), out, grpc.Header(&header)); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to send GRPC message",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		switch status.Code(err) {
		case codes.Unavailable:
			return nil, fmt.Errorf("%w: %s: %v", communication.ErrConnectionFailed, to, err)
		case codes.DeadlineExceeded:
			return nil, fmt.Errorf("%w: %w: %v", communication.ErrMessageSendFailed, context.DeadlineExceeded, err)
		case codes.Canceled:
			return nil, fmt.Errorf("%w: %w: %v", communication.ErrMessageSendFailed, context.Canceled, err)
		default:
			return nil, fmt.Errorf("%w: %v", communication.ErrMessageSendFailed, err)
		}
	}

	resp := &communication.Response{
		Code: communication.CodeInternal,
		Body: out.GetValue(),
	}
	if v := header.Get(headerCode); len(v) > 0 {
		resp.Code = communication.StatusCode(v[0])
	}
	for k, v := range header {
		if strings.HasPrefix(k, headerUserPrefix) && len(v) > 0 {
			if resp.Headers == nil {
				resp.Headers = make(map[string]string)
			}
			resp.Headers[strings.TrimPrefix(k, headerUserPrefix)] = v[0]
		}
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "GRPC message sent successfully",
		Metadata: map[string]any{"to": to, "type": msg.Type, "responseCode": resp.Code},
	})

	return resp, nil
}

type grpcServer struct {
	comm *GRPCCommunicator
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (s *grpcServer) SendMessage(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	s.comm.mu.RLock()
	handler := s.comm.handler
	s.comm.mu.RUnlock()
	if handler == nil {
		return nil, status.Error(codes.Unavailable, communication.ErrHandlerNotSet.Error())
	}

	md, _ := metadata.FromIncomingContext(ctx)
	msg := communication.Message{
		From: firstValue(md, headerFrom),
		Type: firstValue(md, headerType),
	}

	resp, err := s.decodeAndHandle(ctx, handler, msg, req.GetValue())
	if err != nil {
		s.comm.ls.Error(log_service.LogEvent{
			Message:  "Message handler failed",
			Metadata: map[string]any{"type": msg.Type, "error": err.Error()},
		})
		resp = &communication.Response{
			Code: communication.CodeInternal,
			Body: []byte(fmt.Sprintf("%v: %v", communication.ErrMessageHandlerFailed, err)),
		}
	}
	if resp == nil {
		resp = &communication.Response{
			Code: communication.CodeInternal,
			Body: []byte("handler returned nil response"),
		}
	}

	header := metadata.Pairs(headerCode, string(resp.Code))
	for k, v := range resp.Headers {
		header.Append(headerUserPrefix+strings.ToLower(k), v)
	}
	if err := grpc.SetHeader(ctx, header); err != nil {
		return nil, err
	}

	return wrapperspb.Bytes(resp.Body), nil
}

func (s *grpcServer) decodeAndHandle(ctx context.Context, handler communication.MessageHandler, msg communication.Message, payload []byte) (*communication.Response, error) {
	payloadType, ok := s.comm.payloadType(msg.Type)
	switch {
	case ok:
		ptr := reflect.New(payloadType).Interface()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, ptr); err != nil {
				return &communication.Response{
					Code: communication.CodeBadRequest,
					Body: []byte(fmt.Sprintf("%v: %v", communication.ErrPayloadUnmarshalFailed, err)),
				}, nil
			}
		}
		msg.Payload = reflect.ValueOf(ptr).Elem().Interface()
	case len(payload) > 0:
		return &communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte(fmt.Sprintf("%v: %s", communication.ErrUnknownMessageType, msg.Type)),
		}, nil
	}

	return handler(ctx, msg)
}

var _ communication.Communicator = (*GRPCCommunicator)(nil)
