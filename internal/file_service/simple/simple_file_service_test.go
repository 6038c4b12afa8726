package simple

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	localdisc "github.com/AnishMulay/kfsaccess/internal/chunk_service/local_disc"
	cluster "github.com/AnishMulay/kfsaccess/internal/cluster_service"
	"github.com/AnishMulay/kfsaccess/internal/cluster_service/static"
	"github.com/AnishMulay/kfsaccess/internal/log_service/zaplog"
	pms "github.com/AnishMulay/kfsaccess/internal/metadata_service"
	"github.com/AnishMulay/kfsaccess/internal/metadata_service/inmemory"
)

const testChunkSize = 8

func newTestFileService(t *testing.T) (*SimpleFileService, *localdisc.LocalDiscChunkService) {
	t.Helper()
	ls := zaplog.NewNop()

	clusterSvc := static.NewStaticClusterService([]cluster.ClusterNode{
		{ID: "n1", Address: "10.0.0.1:20000"},
		{ID: "n2", Address: "10.0.0.2:20000"},
	}, ls)
	if err := clusterSvc.Start(context.Background()); err != nil {
		t.Fatalf("cluster Start() error = %v", err)
	}

	chunks, err := localdisc.NewLocalDiscChunkService(t.TempDir(), ls)
	if err != nil {
		t.Fatalf("NewLocalDiscChunkService() error = %v", err)
	}
	ms := inmemory.NewInMemoryMetadataService(testChunkSize, cluster.NewPlacement(clusterSvc), ls)
	fs := NewSimpleFileService(ms, chunks, ls)
	if err := fs.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = fs.Stop() })
	return fs, chunks
}

func TestSimpleFileService_WriteRead(t *testing.T) {
	tests := []struct {
		name   string
		writes []struct {
			off  int64
			data string
		}
		readOff, readLen int64
		want             string
	}{
		{
			name: "single chunk",
			writes: []struct {
				off  int64
				data string
			}{{0, "hello"}},
			readOff: 0, readLen: 5, want: "hello",
		},
		{
			name: "spans chunks",
			writes: []struct {
				off  int64
				data string
			}{{0, "abcdefghijklmnopqrstu"}},
			readOff: 6, readLen: 10, want: "ghijklmnop",
		},
		{
			name: "partial overwrite in the middle",
			writes: []struct {
				off  int64
				data string
			}{{0, "aaaaaaaaaaaaaaaa"}, {5, "XYZ"}},
			readOff: 3, readLen: 6, want: "aaXYZa",
		},
		{
			name: "hole reads as zeros",
			writes: []struct {
				off  int64
				data string
			}{{18, "end"}},
			readOff: 0, readLen: 21, want: string(make([]byte, 18)) + "end",
		},
		{
			name: "read clipped at EOF",
			writes: []struct {
				off  int64
				data string
			}{{0, "0123456789"}},
			readOff: 7, readLen: 100, want: "789",
		},
		{
			name: "read past EOF",
			writes: []struct {
				off  int64
				data string
			}{{0, "0123"}},
			readOff: 10, readLen: 4, want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, _ := newTestFileService(t)
			ctx := context.Background()
			if _, err := fs.Create(ctx, "/f", false, 2); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			for _, w := range tt.writes {
				n, err := fs.Write(ctx, "/f", w.off, []byte(w.data))
				if err != nil {
					t.Fatalf("Write() error = %v", err)
				}
				if n != int64(len(w.data)) {
					t.Errorf("Write() n = %d, want %d", n, len(w.data))
				}
			}

			got, err := fs.Read(ctx, "/f", tt.readOff, tt.readLen)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !bytes.Equal(got, []byte(tt.want)) {
				t.Errorf("Read() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSimpleFileService_GetDataLocation(t *testing.T) {
	fs, _ := newTestFileService(t)
	ctx := context.Background()
	_, _ = fs.Create(ctx, "/f", false, 2)
	_, _ = fs.Write(ctx, "/f", 0, bytes.Repeat([]byte("x"), 20)) // chunks 0,1,2

	tests := []struct {
		name        string
		offset, len int64
		wantChunks  int
	}{
		{name: "first chunk", offset: 0, len: 4, wantChunks: 1},
		{name: "straddles boundary", offset: 6, len: 4, wantChunks: 2},
		{name: "clipped to file size", offset: 10, len: 1000, wantChunks: 2},
		{name: "zero length", offset: 0, len: 0, wantChunks: 0},
		{name: "at EOF", offset: 20, len: 5, wantChunks: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locs, err := fs.GetDataLocation(ctx, "/f", tt.offset, tt.len)
			if err != nil {
				t.Fatalf("GetDataLocation() error = %v", err)
			}
			if locs == nil {
				t.Fatalf("GetDataLocation() returned nil table")
			}
			if len(locs) != tt.wantChunks {
				t.Errorf("GetDataLocation() = %d chunks, want %d", len(locs), tt.wantChunks)
			}
			for i, l := range locs {
				if len(l) != 2 {
					t.Errorf("chunk %d has %d locations, want 2", i, len(l))
				}
			}
		})
	}

	_ = fs.Mkdirs(ctx, "/d")
	if _, err := fs.GetDataLocation(ctx, "/d", 0, 1); !errors.Is(err, pms.ErrIsDir) {
		t.Errorf("GetDataLocation() on directory error = %v, want %v", err, pms.ErrIsDir)
	}
	if _, err := fs.GetDataLocation(ctx, "/missing", 0, 1); !errors.Is(err, pms.ErrNotFound) {
		t.Errorf("GetDataLocation() on missing error = %v, want %v", err, pms.ErrNotFound)
	}
}

func TestSimpleFileService_GarbageCollection(t *testing.T) {
	tests := []struct {
		name string
		op   func(fs *SimpleFileService) error
	}{
		{
			name: "remove",
			op:   func(fs *SimpleFileService) error { return fs.Remove(context.Background(), "/f") },
		},
		{
			name: "truncate on create",
			op: func(fs *SimpleFileService) error {
				_, err := fs.Create(context.Background(), "/f", false, 1)
				return err
			},
		},
		{
			name: "rename over",
			op: func(fs *SimpleFileService) error {
				_, _ = fs.Create(context.Background(), "/g", false, 1)
				return fs.Rename(context.Background(), "/g", "/f", true)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, chunks := newTestFileService(t)
			ctx := context.Background()
			_, _ = fs.Create(ctx, "/f", false, 1)
			if _, err := fs.Write(ctx, "/f", 0, []byte("0123456789abcdef")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if ids, _ := chunks.ListChunks(); len(ids) != 2 {
				t.Fatalf("stored chunks = %d, want 2", len(ids))
			}

			if err := tt.op(fs); err != nil {
				t.Fatalf("op error = %v", err)
			}
			if ids, _ := chunks.ListChunks(); len(ids) != 0 {
				t.Errorf("stored chunks after %s = %v, want none", tt.name, ids)
			}
		})
	}
}

func TestSimpleFileService_WriteErrors(t *testing.T) {
	fs, _ := newTestFileService(t)
	ctx := context.Background()
	_ = fs.Mkdirs(ctx, "/d")

	if _, err := fs.Write(ctx, "/d", 0, []byte("x")); !errors.Is(err, pms.ErrIsDir) {
		t.Errorf("Write() on directory error = %v, want %v", err, pms.ErrIsDir)
	}
	if _, err := fs.Write(ctx, "/nope", 0, []byte("x")); !errors.Is(err, pms.ErrNotFound) {
		t.Errorf("Write() on missing error = %v, want %v", err, pms.ErrNotFound)
	}
	if _, err := fs.Read(ctx, "/d", 0, 1); !errors.Is(err, pms.ErrIsDir) {
		t.Errorf("Read() on directory error = %v, want %v", err, pms.ErrIsDir)
	}
}

func TestSimpleFileService_WriteRacesRemove(t *testing.T) {
	fs, chunks := newTestFileService(t)
	ctx := context.Background()
	data := bytes.Repeat([]byte("x"), 4*testChunkSize)

	for round := 0; round < 50; round++ {
		if _, err := fs.Create(ctx, "/f", false, 1); err != nil {
			t.Fatalf("round %d: Create() error = %v", round, err)
		}

		var wg sync.WaitGroup
		var n int64
		var writeErr, removeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			n, writeErr = fs.Write(ctx, "/f", 0, data)
		}()
		go func() {
			defer wg.Done()
			removeErr = fs.Remove(ctx, "/f")
		}()
		wg.Wait()

		if removeErr != nil {
			t.Fatalf("round %d: Remove() error = %v", round, removeErr)
		}
		switch {
		case writeErr == nil && n != int64(len(data)):
			t.Fatalf("round %d: Write() = %d, want %d", round, n, len(data))
		case writeErr != nil && !errors.Is(writeErr, pms.ErrNotFound):
			t.Fatalf("round %d: Write() error = %v, want %v", round, writeErr, pms.ErrNotFound)
		}
		if ids, _ := chunks.ListChunks(); len(ids) != 0 {
			t.Fatalf("round %d: chunks left after remove = %d", round, len(ids))
		}
	}
}

func TestSimpleFileService_ConcurrentFiles(t *testing.T) {
	fs, chunks := newTestFileService(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			path := fmt.Sprintf("/f%d", w)
			want := bytes.Repeat([]byte{byte('a' + w)}, 5*testChunkSize+w)
			if _, err := fs.Create(ctx, path, true, 1); err != nil {
				errs <- err
				return
			}
			// Two writes so read-modify-write cycles interleave across files.
			half := len(want) / 2
			if _, err := fs.Write(ctx, path, 0, want[:half]); err != nil {
				errs <- err
				return
			}
			if _, err := fs.Write(ctx, path, int64(half), want[half:]); err != nil {
				errs <- err
				return
			}
			got, err := fs.Read(ctx, path, 0, int64(len(want)))
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, want) {
				errs <- fmt.Errorf("%s: read back %q", path, got)
				return
			}
			errs <- fs.Remove(ctx, path)
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if ids, _ := chunks.ListChunks(); len(ids) != 0 {
		t.Errorf("chunks left = %d, want none", len(ids))
	}
}
