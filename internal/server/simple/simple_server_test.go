package simple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	localdisc "github.com/AnishMulay/kfsaccess/internal/chunk_service/local_disc"
	cluster "github.com/AnishMulay/kfsaccess/internal/cluster_service"
	"github.com/AnishMulay/kfsaccess/internal/cluster_service/static"
	"github.com/AnishMulay/kfsaccess/internal/communication"
	fssimple "github.com/AnishMulay/kfsaccess/internal/file_service/simple"
	"github.com/AnishMulay/kfsaccess/internal/log_service/zaplog"
	pms "github.com/AnishMulay/kfsaccess/internal/metadata_service"
	"github.com/AnishMulay/kfsaccess/internal/metadata_service/inmemory"
	ps "github.com/AnishMulay/kfsaccess/internal/server"
)

func newRouter(t *testing.T) *SimpleServer {
	t.Helper()
	ls := zaplog.NewNop()
	clusterSvc := static.NewStaticClusterService([]cluster.ClusterNode{{ID: "n1", Address: "127.0.0.1:1"}}, ls)
	chunks, err := localdisc.NewLocalDiscChunkService(t.TempDir(), ls)
	if err != nil {
		t.Fatalf("NewLocalDiscChunkService() error = %v", err)
	}
	ms := inmemory.NewInMemoryMetadataService(4, cluster.NewPlacement(clusterSvc), ls)
	fs := fssimple.NewSimpleFileService(ms, chunks, ls)
	if err := fs.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// The router is exercised directly; no communicator is needed.
	return NewSimpleServer("n1", nil, fs, ls)
}

func send(t *testing.T, s *SimpleServer, msgType string, payload any) *communication.Response {
	t.Helper()
	resp, err := s.handleMessage(context.Background(), communication.Message{From: "test", Type: msgType, Payload: payload})
	if err != nil {
		t.Fatalf("handleMessage(%s) error = %v", msgType, err)
	}
	return resp
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want communication.StatusCode
	}{
		{pms.ErrNotFound, communication.CodeNotFound},
		{fmt.Errorf("wrapped: %w", pms.ErrAlreadyExists), communication.CodeAlreadyExists},
		{pms.ErrIsDir, communication.CodeIsDirectory},
		{pms.ErrNotDir, communication.CodeNotDirectory},
		{pms.ErrNotEmpty, communication.CodeNotEmpty},
		{pms.ErrInvalid, communication.CodeInvalid},
		{pms.ErrNotStarted, communication.CodeUnavailable},
		{errors.New("disk on fire"), communication.CodeInternal},
	}
	for _, tt := range tests {
		if got := codeFor(tt.err); got != tt.want {
			t.Errorf("codeFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestSimpleServer_HandleMessage(t *testing.T) {
	s := newRouter(t)

	if resp := send(t, s, ps.MsgMkdirs, ps.PathRequest{Path: "/d"}); resp.Code != communication.CodeOK {
		t.Fatalf("mkdirs code = %s", resp.Code)
	}
	if resp := send(t, s, ps.MsgCreate, ps.CreateRequest{Path: "/d/f", Replication: 3}); resp.Code != communication.CodeOK {
		t.Fatalf("create code = %s (%s)", resp.Code, resp.Body)
	}

	resp := send(t, s, ps.MsgWrite, ps.WriteRequest{Path: "/d/f", Data: []byte("hello world")})
	var wr ps.WriteResponse
	if err := json.Unmarshal(resp.Body, &wr); err != nil || wr.Written != 11 {
		t.Fatalf("write response = %s, %v", resp.Body, err)
	}

	resp = send(t, s, ps.MsgRead, ps.ReadRequest{Path: "/d/f", Offset: 6, Length: 5})
	if resp.Code != communication.CodeOK || string(resp.Body) != "world" {
		t.Errorf("read = %s %q, want OK \"world\"", resp.Code, resp.Body)
	}

	resp = send(t, s, ps.MsgStat, ps.PathRequest{Path: "/d/f"})
	var info ps.FileInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		t.Fatalf("stat body: %v", err)
	}
	if info.Size != 11 || info.IsDir || info.Name != "f" || info.Replication != 1 || info.ChunkCount != 3 {
		t.Errorf("stat = %+v", info)
	}

	resp = send(t, s, ps.MsgDataLocation, ps.DataLocationRequest{Path: "/d/f", Offset: 0, Length: 100})
	var dl ps.DataLocationResponse
	_ = json.Unmarshal(resp.Body, &dl)
	if len(dl.Chunks) != 3 || dl.Chunks[0][0] != "127.0.0.1:1" {
		t.Errorf("data location = %+v", dl)
	}

	resp = send(t, s, ps.MsgReadDir, ps.PathRequest{Path: "/d"})
	var rd ps.ReadDirResponse
	_ = json.Unmarshal(resp.Body, &rd)
	if len(rd.Names) != 1 || rd.Names[0] != "f" {
		t.Errorf("readdir = %+v", rd)
	}

	tests := []struct {
		name    string
		msgType string
		payload any
		want    communication.StatusCode
	}{
		{"rmdir non-empty", ps.MsgRmdir, ps.PathRequest{Path: "/d"}, communication.CodeNotEmpty},
		{"remove directory", ps.MsgRemove, ps.PathRequest{Path: "/d"}, communication.CodeIsDirectory},
		{"rename no overwrite", ps.MsgRename, ps.RenameRequest{Src: "/d/f", Dst: "/d/f2"}, communication.CodeOK},
		{"stat missing", ps.MsgStat, ps.PathRequest{Path: "/d/f"}, communication.CodeNotFound},
		{"readdir on file", ps.MsgReadDir, ps.PathRequest{Path: "/d/f2"}, communication.CodeNotDirectory},
		{"exclusive create", ps.MsgCreate, ps.CreateRequest{Path: "/d/f2", Exclusive: true}, communication.CodeAlreadyExists},
		{"wrong payload", ps.MsgStat, ps.RenameRequest{}, communication.CodeBadRequest},
		{"unknown type", "bogus", nil, communication.CodeBadRequest},
		{"ping", ps.MsgPing, nil, communication.CodeOK},
		{"fsinfo", ps.MsgFsInfo, nil, communication.CodeOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := send(t, s, tt.msgType, tt.payload)
			if resp.Code != tt.want {
				t.Errorf("code = %s (%s), want %s", resp.Code, resp.Body, tt.want)
			}
		})
	}
}
