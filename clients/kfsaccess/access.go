package kfsaccess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/AnishMulay/kfsaccess/internal/communication"
	grpccomm "github.com/AnishMulay/kfsaccess/internal/communication/grpc"
	"github.com/AnishMulay/kfsaccess/internal/config"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
	locallog "github.com/AnishMulay/kfsaccess/internal/log_service/localdisc"
	"github.com/AnishMulay/kfsaccess/internal/log_service/zaplog"
	ps "github.com/AnishMulay/kfsaccess/internal/server"
)

// KfsAccess is a connection to one metaserver. It is safe for concurrent
// use; handles returned by Create and Open each carry their own state.
type KfsAccess struct {
	cfg      config.ClientConfig
	comm     *grpccomm.GRPCCommunicator
	ls       log_service.LogService
	closeLog func() error

	mu     sync.RWMutex
	closed bool
}

// NewKfsAccess connects to the metaserver at host:port with the default
// client configuration.
func NewKfsAccess(host string, port int) (*KfsAccess, error) {
	if port <= 0 || port > 65535 {
		return nil, newError("connect", host, KindInvalidArgument, fmt.Errorf("port out of range: %d", port))
	}
	cfg := config.DefaultClientConfig()
	cfg.ServerAddr = net.JoinHostPort(host, strconv.Itoa(port))
	return NewKfsAccessWithConfig(cfg, nil)
}

// NewKfsAccessWithConfig connects using cfg. When ls is nil the client
// logs to cfg.LogDir if set and nowhere otherwise.
func NewKfsAccessWithConfig(cfg config.ClientConfig, ls log_service.LogService) (*KfsAccess, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError("connect", cfg.ServerAddr, KindInvalidArgument, err)
	}

	closeLog := func() error { return nil }
	if ls == nil {
		if cfg.LogDir != "" {
			disc, err := locallog.NewLocalDiscLogService(cfg.LogDir, cfg.ClientID, cfg.LogLevel)
			if err != nil {
				return nil, newError("connect", cfg.ServerAddr, KindIOError, err)
			}
			ls, closeLog = disc, disc.Close
		} else {
			ls = zaplog.NewNop()
		}
	}

	// Client-only communicator: never started, so it does not listen.
	comm := grpccomm.NewGRPCCommunicator("", ls)
	a := &KfsAccess{cfg: cfg, comm: comm, ls: ls, closeLog: closeLog}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := comm.Dial(ctx, cfg.ServerAddr); err != nil {
		_ = comm.Stop()
		_ = closeLog()
		return nil, newError("connect", cfg.ServerAddr, KindConnectionError, err)
	}

	var pong ps.PingResponse
	if err := a.do("connect", "", ps.MsgPing, nil, &pong); err != nil {
		_ = comm.Stop()
		_ = closeLog()
		return nil, err
	}

	ls.Info(log_service.LogEvent{
		Message:  "Connected to metaserver",
		Metadata: map[string]any{"server": cfg.ServerAddr, "nodeID": pong.NodeID},
	})
	return a, nil
}

// ServerAddr is the host:port this client talks to.
func (a *KfsAccess) ServerAddr() string {
	return a.cfg.ServerAddr
}

// Close releases the connection. Handles still open fail with
// InvalidState afterwards.
func (a *KfsAccess) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return newError("close", "", KindInvalidState, nil)
	}
	a.closed = true
	a.mu.Unlock()

	err := a.comm.Stop()
	if logErr := a.closeLog(); err == nil {
		err = logErr
	}
	if err != nil {
		return newError("close", "", KindIOError, err)
	}
	return nil
}

func (a *KfsAccess) Mkdirs(path string) error {
	err := a.do("mkdirs", path, ps.MsgMkdirs, ps.PathRequest{Path: path}, nil)
	// A non-directory in the way is a conflict, not a type mismatch.
	var e *Error
	if errors.As(err, &e) && (e.Kind == KindIsAFile || e.Kind == KindAlreadyExists) {
		e.Kind = KindIOError
	}
	return err
}

func (a *KfsAccess) Stat(path string) (*FileInfo, error) {
	var fi ps.FileInfo
	if err := a.do("stat", path, ps.MsgStat, ps.PathRequest{Path: path}, &fi); err != nil {
		return nil, err
	}
	info := fromWire(fi)
	return &info, nil
}

// lookup is Stat with a missing path reported as nil, nil. A file used as
// a directory component also means the path cannot exist.
func (a *KfsAccess) lookup(path string) (*FileInfo, error) {
	info, err := a.Stat(path)
	if k := KindOf(err); err != nil && (k == KindNotFound || k == KindIsAFile) {
		return nil, nil
	}
	return info, err
}

func (a *KfsAccess) Exists(path string) (bool, error) {
	info, err := a.lookup(path)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

func (a *KfsAccess) IsDirectory(path string) (bool, error) {
	info, err := a.lookup(path)
	if err != nil {
		return false, err
	}
	return info != nil && info.IsDir, nil
}

func (a *KfsAccess) IsFile(path string) (bool, error) {
	info, err := a.lookup(path)
	if err != nil {
		return false, err
	}
	return info != nil && !info.IsDir, nil
}

// Create makes path a new empty file, truncating an existing one, and
// returns a handle writing from offset zero.
func (a *KfsAccess) Create(path string) (*OutputChannel, error) {
	return a.create("create", path, false)
}

// CreateExclusive is Create that fails with AlreadyExists instead of
// truncating.
func (a *KfsAccess) CreateExclusive(path string) (*OutputChannel, error) {
	return a.create("create_exclusive", path, true)
}

func (a *KfsAccess) create(op, path string, exclusive bool) (*OutputChannel, error) {
	req := ps.CreateRequest{Path: path, Exclusive: exclusive, Replication: int16(a.cfg.Replication)}
	if err := a.do(op, path, ps.MsgCreate, req, nil); err != nil {
		return nil, err
	}
	return newOutputChannel(a, path, a.cfg.WriteBufferSize), nil
}

func (a *KfsAccess) Open(path string) (*InputChannel, error) {
	info, err := a.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, newError("open", path, KindIsADirectory, nil)
	}
	return newInputChannel(a, path, a.cfg.MaxReadSize), nil
}

// Readdir lists the names in a directory, sorted. An empty directory
// yields an empty, non-nil slice.
func (a *KfsAccess) Readdir(path string) ([]string, error) {
	var out ps.ReadDirResponse
	if err := a.do("readdir", path, ps.MsgReadDir, ps.PathRequest{Path: path}, &out); err != nil {
		return nil, err
	}
	if out.Names == nil {
		out.Names = []string{}
	}
	return out.Names, nil
}

func (a *KfsAccess) ReaddirPlus(path string) ([]FileInfo, error) {
	var out ps.ReadDirPlusResponse
	if err := a.do("readdirplus", path, ps.MsgReadDirPlus, ps.PathRequest{Path: path}, &out); err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(out.Entries))
	for _, e := range out.Entries {
		infos = append(infos, fromWire(e))
	}
	return infos, nil
}

// Rename relinks src to dst. Without overwrite an existing dst fails with
// AlreadyExists and neither path changes.
func (a *KfsAccess) Rename(src, dst string, overwrite bool) error {
	return a.do("rename", src, ps.MsgRename, ps.RenameRequest{Src: src, Dst: dst, Overwrite: overwrite}, nil)
}

func (a *KfsAccess) Remove(path string) error {
	return a.do("remove", path, ps.MsgRemove, ps.PathRequest{Path: path}, nil)
}

func (a *KfsAccess) Rmdir(path string) error {
	return a.do("rmdir", path, ps.MsgRmdir, ps.PathRequest{Path: path}, nil)
}

// Filesize is the length of the file as of its last sync or close.
func (a *KfsAccess) Filesize(path string) (int64, error) {
	info, err := a.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir {
		return 0, newError("filesize", path, KindIsADirectory, nil)
	}
	return info.Size, nil
}

// GetDataLocation returns, per chunk overlapping [offset, offset+length),
// the addresses of the servers holding it. A range that overlaps no chunk
// yields an empty, non-nil table.
func (a *KfsAccess) GetDataLocation(path string, offset, length int64) ([][]string, error) {
	if offset < 0 {
		return nil, newError("get_data_location", path, KindInvalidArgument, fmt.Errorf("negative offset %d", offset))
	}
	var out ps.DataLocationResponse
	req := ps.DataLocationRequest{Path: path, Offset: offset, Length: length}
	if err := a.do("get_data_location", path, ps.MsgDataLocation, req, &out); err != nil {
		return nil, err
	}
	if out.Chunks == nil {
		out.Chunks = [][]string{}
	}
	return out.Chunks, nil
}

func (a *KfsAccess) GetReplication(path string) (int16, error) {
	info, err := a.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir {
		return 0, newError("get_replication", path, KindIsADirectory, nil)
	}
	return info.Replication, nil
}

// SetReplication asks for n copies of every chunk of path and returns the
// count the metaserver settled on, which is capped by the live servers.
func (a *KfsAccess) SetReplication(path string, n int16) (int16, error) {
	if n <= 0 {
		return 0, newError("set_replication", path, KindInvalidArgument, fmt.Errorf("replication must be positive, got %d", n))
	}
	var out ps.ReplicationResponse
	req := ps.SetReplicationRequest{Path: path, Replication: n}
	if err := a.do("set_replication", path, ps.MsgSetReplication, req, &out); err != nil {
		return 0, err
	}
	return out.Replication, nil
}

func (a *KfsAccess) ModificationTime(path string) (time.Time, error) {
	info, err := a.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime, nil
}

func (a *KfsAccess) FsInfo() (*FsInfo, error) {
	var out ps.FsInfoResponse
	if err := a.do("fsinfo", "", ps.MsgFsInfo, nil, &out); err != nil {
		return nil, err
	}
	return &FsInfo{
		FsID:            out.FsID,
		ChunkSize:       out.ChunkSize,
		MaxFilenameSize: out.MaxFilenameSize,
		MaxFileSize:     out.MaxFileSize,
		InodeCount:      out.InodeCount,
		NodeID:          out.NodeID,
	}, nil
}

// readAt fetches up to length bytes at offset. Fewer bytes mean end of
// file was reached.
func (a *KfsAccess) readAt(path string, offset int64, length int) ([]byte, error) {
	resp, err := a.call("read", path, ps.MsgRead, ps.ReadRequest{Path: path, Offset: offset, Length: int64(length)})
	if err != nil {
		return nil, err
	}
	if resp.Code != communication.CodeOK {
		return nil, responseError("read", path, resp)
	}
	return resp.Body, nil
}

// writeAt stores data at offset and reports how many bytes the
// metaserver committed, which is less than len(data) only with an error.
func (a *KfsAccess) writeAt(path string, offset int64, data []byte) (int64, error) {
	resp, err := a.call("write", path, ps.MsgWrite, ps.WriteRequest{Path: path, Offset: offset, Data: data})
	if err != nil {
		return 0, err
	}
	if resp.Code != communication.CodeOK {
		written, _ := strconv.ParseInt(resp.Headers[ps.HeaderWritten], 10, 64)
		return written, responseError("write", path, resp)
	}
	var out ps.WriteResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return 0, newError("write", path, KindIOError, fmt.Errorf("decode response: %w", err))
	}
	return out.Written, nil
}

func (a *KfsAccess) do(op, path, msgType string, payload any, out any) error {
	resp, err := a.call(op, path, msgType, payload)
	if err != nil {
		return err
	}
	if resp.Code != communication.CodeOK {
		return responseError(op, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return newError(op, path, KindIOError, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (a *KfsAccess) call(op, path, msgType string, payload any) (*communication.Response, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, newError(op, path, KindInvalidState, errors.New("client is closed"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()

	resp, err := a.comm.Send(ctx, a.cfg.ServerAddr, communication.Message{
		From:    a.cfg.ClientID,
		Type:    msgType,
		Payload: payload,
	})
	if err != nil {
		a.ls.Warn(log_service.LogEvent{
			Message:  "Request failed",
			Metadata: map[string]any{"op": op, "path": path, "error": err.Error()},
		})
		return nil, transportError(op, path, err)
	}
	return resp, nil
}
