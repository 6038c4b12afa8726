package simple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/AnishMulay/kfsaccess/internal/communication"
	fsvc "github.com/AnishMulay/kfsaccess/internal/file_service"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
	pms "github.com/AnishMulay/kfsaccess/internal/metadata_service"
	ps "github.com/AnishMulay/kfsaccess/internal/server"
)

type SimpleServer struct {
	nodeID string
	comm   communication.Communicator
	fs     fsvc.FileService
	ls     log_service.LogService
}

func NewSimpleServer(nodeID string, comm communication.Communicator, fs fsvc.FileService, ls log_service.LogService) *SimpleServer {
	return &SimpleServer{
		nodeID: nodeID,
		comm:   comm,
		fs:     fs,
		ls:     ls,
	}
}

func (s *SimpleServer) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting Simple Server", Metadata: map[string]any{"nodeID": s.nodeID}})

	s.registerPayloads()

	if err := s.fs.Start(); err != nil {
		return fmt.Errorf("%w: %v", ps.ErrServerStartFailed, err)
	}
	if err := s.comm.Start(s.handleMessage); err != nil {
		_ = s.fs.Stop()
		return fmt.Errorf("%w: %v", ps.ErrServerStartFailed, err)
	}
	return nil
}

func (s *SimpleServer) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping Simple Server"})
	commErr := s.comm.Stop()
	if err := s.fs.Stop(); err != nil {
		s.ls.Error(log_service.LogEvent{Message: "Failed to stop file service", Metadata: map[string]any{"error": err.Error()}})
	}
	if commErr != nil {
		return fmt.Errorf("%w: %v", ps.ErrServerStopFailed, commErr)
	}
	return nil
}

func (s *SimpleServer) Addr() string {
	return s.comm.Address()
}

func (s *SimpleServer) registerPayloads() {
	s.comm.RegisterPayloadType(ps.MsgStat, reflect.TypeOf(ps.PathRequest{}))
	s.comm.RegisterPayloadType(ps.MsgMkdirs, reflect.TypeOf(ps.PathRequest{}))
	s.comm.RegisterPayloadType(ps.MsgCreate, reflect.TypeOf(ps.CreateRequest{}))
	s.comm.RegisterPayloadType(ps.MsgReadDir, reflect.TypeOf(ps.PathRequest{}))
	s.comm.RegisterPayloadType(ps.MsgReadDirPlus, reflect.TypeOf(ps.PathRequest{}))
	s.comm.RegisterPayloadType(ps.MsgRemove, reflect.TypeOf(ps.PathRequest{}))
	s.comm.RegisterPayloadType(ps.MsgRmdir, reflect.TypeOf(ps.PathRequest{}))
	s.comm.RegisterPayloadType(ps.MsgRename, reflect.TypeOf(ps.RenameRequest{}))
	s.comm.RegisterPayloadType(ps.MsgRead, reflect.TypeOf(ps.ReadRequest{}))
	s.comm.RegisterPayloadType(ps.MsgWrite, reflect.TypeOf(ps.WriteRequest{}))
	s.comm.RegisterPayloadType(ps.MsgDataLocation, reflect.TypeOf(ps.DataLocationRequest{}))
	s.comm.RegisterPayloadType(ps.MsgSetReplication, reflect.TypeOf(ps.SetReplicationRequest{}))
}

// payload extracts the typed request registered for msg.Type.
func payload[T any](msg communication.Message) (T, error) {
	req, ok := msg.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s got %T", ps.ErrInvalidPayloadType, msg.Type, msg.Payload)
	}
	return req, nil
}

// Central Router for all incoming messages
func (s *SimpleServer) handleMessage(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Handling message",
		Metadata: map[string]any{"type": msg.Type, "from": msg.From},
	})

	switch msg.Type {
	case ps.MsgPing:
		return s.respond(ps.PingResponse{NodeID: s.nodeID}, nil)

	case ps.MsgFsInfo:
		info, err := s.fs.GetFsInfo(ctx)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(ps.FsInfoResponse{
			FsID:            info.FsID,
			ChunkSize:       info.ChunkSize,
			MaxFilenameSize: info.MaxFilenameSize,
			MaxFileSize:     info.MaxFileSize,
			InodeCount:      info.InodeCount,
			NodeID:          s.nodeID,
		}, nil)
	}

	switch msg.Type {
	case ps.MsgStat, ps.MsgMkdirs, ps.MsgReadDir, ps.MsgReadDirPlus, ps.MsgRemove, ps.MsgRmdir:
		req, err := payload[ps.PathRequest](msg)
		if err != nil {
			return s.badRequest(err)
		}
		return s.handlePath(ctx, msg.Type, req.Path)

	case ps.MsgCreate:
		req, err := payload[ps.CreateRequest](msg)
		if err != nil {
			return s.badRequest(err)
		}
		attrs, err := s.fs.Create(ctx, req.Path, req.Exclusive, req.Replication)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(toFileInfo(attrs), nil)

	case ps.MsgRename:
		req, err := payload[ps.RenameRequest](msg)
		if err != nil {
			return s.badRequest(err)
		}
		return s.respond(nil, s.fs.Rename(ctx, req.Src, req.Dst, req.Overwrite))

	case ps.MsgRead:
		req, err := payload[ps.ReadRequest](msg)
		if err != nil {
			return s.badRequest(err)
		}
		data, err := s.fs.Read(ctx, req.Path, req.Offset, req.Length)
		if err != nil {
			return s.respond(nil, err)
		}
		// Raw bytes; no JSON wrapping.
		return &communication.Response{Code: communication.CodeOK, Body: data}, nil

	case ps.MsgWrite:
		req, err := payload[ps.WriteRequest](msg)
		if err != nil {
			return s.badRequest(err)
		}
		n, err := s.fs.Write(ctx, req.Path, req.Offset, req.Data)
		if err != nil {
			resp, _ := s.respond(nil, err)
			resp.Headers = map[string]string{ps.HeaderWritten: strconv.FormatInt(n, 10)}
			return resp, nil
		}
		return s.respond(ps.WriteResponse{Written: n}, nil)

	case ps.MsgDataLocation:
		req, err := payload[ps.DataLocationRequest](msg)
		if err != nil {
			return s.badRequest(err)
		}
		chunks, err := s.fs.GetDataLocation(ctx, req.Path, req.Offset, req.Length)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(ps.DataLocationResponse{Chunks: chunks}, nil)

	case ps.MsgSetReplication:
		req, err := payload[ps.SetReplicationRequest](msg)
		if err != nil {
			return s.badRequest(err)
		}
		n, err := s.fs.SetReplication(ctx, req.Path, req.Replication)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(ps.ReplicationResponse{Replication: n}, nil)

	default:
		return &communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte("unknown message type: " + msg.Type),
		}, nil
	}
}

func (s *SimpleServer) handlePath(ctx context.Context, msgType, path string) (*communication.Response, error) {
	switch msgType {
	case ps.MsgStat:
		attrs, err := s.fs.Stat(ctx, path)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(toFileInfo(attrs), nil)

	case ps.MsgMkdirs:
		return s.respond(nil, s.fs.Mkdirs(ctx, path))

	case ps.MsgReadDir:
		entries, err := s.fs.ReadDir(ctx, path)
		if err != nil {
			return s.respond(nil, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name)
		}
		return s.respond(ps.ReadDirResponse{Names: names}, nil)

	case ps.MsgReadDirPlus:
		entries, err := s.fs.ReadDirPlus(ctx, path)
		if err != nil {
			return s.respond(nil, err)
		}
		infos := make([]ps.FileInfo, 0, len(entries))
		for _, e := range entries {
			infos = append(infos, toFileInfo(e.Inode))
		}
		return s.respond(ps.ReadDirPlusResponse{Entries: infos}, nil)

	case ps.MsgRemove:
		return s.respond(nil, s.fs.Remove(ctx, path))

	default: // ps.MsgRmdir
		return s.respond(nil, s.fs.Rmdir(ctx, path))
	}
}

func toFileInfo(a *pms.Attributes) ps.FileInfo {
	return ps.FileInfo{
		Name:        a.Name,
		IsDir:       a.Type == pms.TypeDirectory,
		Size:        a.Size,
		Replication: a.Replication,
		ChunkCount:  a.ChunkCount,
		ModTime:     a.ModifyTime.UTC().Truncate(time.Microsecond),
		ChangeTime:  a.ChangeTime.UTC().Truncate(time.Microsecond),
		CreateTime:  a.CreateTime.UTC().Truncate(time.Microsecond),
	}
}

// codeFor maps service errors onto wire status codes.
func codeFor(err error) communication.StatusCode {
	switch {
	case errors.Is(err, pms.ErrNotFound):
		return communication.CodeNotFound
	case errors.Is(err, pms.ErrAlreadyExists):
		return communication.CodeAlreadyExists
	case errors.Is(err, pms.ErrIsDir):
		return communication.CodeIsDirectory
	case errors.Is(err, pms.ErrNotDir):
		return communication.CodeNotDirectory
	case errors.Is(err, pms.ErrNotEmpty):
		return communication.CodeNotEmpty
	case errors.Is(err, pms.ErrInvalid):
		return communication.CodeInvalid
	case errors.Is(err, pms.ErrNotStarted):
		return communication.CodeUnavailable
	default:
		return communication.CodeInternal
	}
}

func (s *SimpleServer) badRequest(err error) (*communication.Response, error) {
	return &communication.Response{
		Code: communication.CodeBadRequest,
		Body: []byte(err.Error()),
	}, nil
}

// respond is a helper to standardize JSON responses and error codes
func (s *SimpleServer) respond(data any, err error) (*communication.Response, error) {
	if err != nil {
		code := codeFor(err)
		if code == communication.CodeInternal {
			s.ls.Error(log_service.LogEvent{
				Message:  "Request failed",
				Metadata: map[string]any{"error": err.Error()},
			})
		}
		return &communication.Response{
			Code: code,
			Body: []byte(err.Error()),
		}, nil
	}

	if data == nil {
		return &communication.Response{Code: communication.CodeOK}, nil
	}

	bytes, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		return &communication.Response{
			Code: communication.CodeInternal,
			Body: []byte("failed to marshal response: " + marshalErr.Error()),
		}, nil
	}

	return &communication.Response{
		Code: communication.CodeOK,
		Body: bytes,
	}, nil
}
