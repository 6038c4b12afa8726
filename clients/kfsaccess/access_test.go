package kfsaccess

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/AnishMulay/kfsaccess/internal/config"
	"github.com/AnishMulay/kfsaccess/servers/simple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testChunkSize = 64

func startNode(t *testing.T) *simple.Node {
	t.Helper()
	return startNodeWithChunkSize(t, testChunkSize)
}

func startNodeWithChunkSize(t *testing.T, chunkSize int64) *simple.Node {
	t.Helper()
	cfg := config.DefaultServerConfig()
	cfg.NodeID = "test-node"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.LogFormat = "none"
	cfg.ChunkSize = chunkSize

	node, err := simple.Build(cfg)
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(func() { _ = node.Stop() })
	return node
}

func newClient(t *testing.T, node *simple.Node) *KfsAccess {
	t.Helper()
	cfg := config.DefaultClientConfig()
	cfg.ServerAddr = node.Addr()
	cfg.WriteBufferSize = 100
	cfg.MaxReadSize = 50

	fs, err := NewKfsAccessWithConfig(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func writeFile(t *testing.T, fs *KfsAccess, path string, data []byte) {
	t.Helper()
	out, err := fs.Create(path)
	require.NoError(t, err)
	n, err := out.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, out.Close())
}

func readFile(t *testing.T, fs *KfsAccess, path string) []byte {
	t.Helper()
	in, err := fs.Open(path)
	require.NoError(t, err)
	defer in.Close()
	data, err := io.ReadAll(in)
	require.NoError(t, err)
	return data
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestNewKfsAccess_Connect(t *testing.T) {
	node := startNode(t)
	host, portStr, err := net.SplitHostPort(node.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	fs, err := NewKfsAccess(host, port)
	require.NoError(t, err)
	info, err := fs.FsInfo()
	require.NoError(t, err)
	assert.Equal(t, "test-node", info.NodeID)
	assert.EqualValues(t, testChunkSize, info.ChunkSize)
	require.NoError(t, fs.Close())

	_, err = fs.Exists("/")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, fs.Close(), ErrInvalidState)
}

func TestNewKfsAccess_ConnectionError(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := config.DefaultClientConfig()
	cfg.ServerAddr = addr
	cfg.DialTimeout = 500 * time.Millisecond
	fs, err := NewKfsAccessWithConfig(cfg, nil)
	assert.Nil(t, fs)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, KindConnectionError, KindOf(err))

	_, err = NewKfsAccess("127.0.0.1", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKfsAccess_Namespace(t *testing.T) {
	fs := newClient(t, startNode(t))

	// Property 1.
	ok, err := fs.Exists("/a/b")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, fs.Mkdirs("/a/b"))
	ok, err = fs.IsDirectory("/a/b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = fs.IsFile("/a/b")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, fs.Mkdirs("/a/b"), "mkdirs is idempotent")

	names, err := fs.Readdir("/a/b")
	require.NoError(t, err)
	assert.NotNil(t, names)
	assert.Empty(t, names)

	writeFile(t, fs, "/a/f", []byte("x"))
	ok, err = fs.IsFile("/a/f")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = fs.Exists("/a/f/under")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err = fs.Readdir("/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "f"}, names)

	infos, err := fs.ReaddirPlus("/a")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].IsDir)
	assert.EqualValues(t, 1, infos[1].Size)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"mkdirs through a file", fs.Mkdirs("/a/f/g"), ErrIO},
		{"mkdirs over a file", fs.Mkdirs("/a/f"), ErrIO},
		{"remove directory", fs.Remove("/a/b"), ErrIsADirectory},
		{"remove missing", fs.Remove("/a/missing"), ErrNotFound},
		{"rmdir non-empty", fs.Rmdir("/a"), ErrNotEmpty},
		{"rmdir missing", fs.Rmdir("/nope"), ErrNotFound},
		{"rmdir file", fs.Rmdir("/a/f"), ErrIsAFile},
		{"rmdir root", fs.Rmdir("/"), ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}

	_, err = fs.Readdir("/a/f")
	assert.ErrorIs(t, err, ErrIsAFile)
	_, err = fs.Readdir("/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Create("/missing/f")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Create("/a/b")
	assert.ErrorIs(t, err, ErrIsADirectory)
	_, err = fs.CreateExclusive("/a/f")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = fs.Open("/a/b")
	assert.ErrorIs(t, err, ErrIsADirectory)
	_, err = fs.Filesize("/a/b")
	assert.ErrorIs(t, err, ErrIsADirectory)

	require.NoError(t, fs.Rmdir("/a/b"))
	require.NoError(t, fs.Remove("/a/f"))
	require.NoError(t, fs.Rmdir("/a"))
	ok, err = fs.Exists("/a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKfsAccess_WriteReadRoundTrip(t *testing.T) {
	fs := newClient(t, startNode(t))
	data := pattern(1000)

	out, err := fs.Create("/f")
	require.NoError(t, err)
	ok, err := fs.Exists("/f")
	require.NoError(t, err)
	assert.True(t, ok, "entry exists before any byte is written")

	// Uneven writes cross buffer and chunk boundaries.
	for off := 0; off < len(data); off += 37 {
		n, err := out.Write(data[off:min(off+37, len(data))])
		require.NoError(t, err)
		require.Equal(t, min(37, len(data)-off), n)
	}
	assert.EqualValues(t, len(data), out.Tell())

	require.NoError(t, out.Sync())
	size, err := fs.Filesize("/f")
	require.NoError(t, err)
	assert.EqualValues(t, len(data), size)

	require.NoError(t, out.Close())
	_, err = out.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, out.Sync(), ErrInvalidState)
	assert.ErrorIs(t, out.Close(), ErrInvalidState)

	// Properties 2 and 3.
	size, err = fs.Filesize("/f")
	require.NoError(t, err)
	assert.EqualValues(t, len(data), size)
	assert.Equal(t, data, readFile(t, fs, "/f"))

	// Create truncates.
	writeFile(t, fs, "/f", []byte("short"))
	assert.Equal(t, []byte("short"), readFile(t, fs, "/f"))

	info, err := fs.Stat("/f")
	require.NoError(t, err)
	assert.Equal(t, "f", info.Name)
	mtime, err := fs.ModificationTime("/f")
	require.NoError(t, err)
	assert.Equal(t, info.ModTime, mtime)
	assert.False(t, mtime.IsZero())
}

func TestKfsAccess_Rename(t *testing.T) {
	fs := newClient(t, startNode(t))
	writeFile(t, fs, "/a", pattern(300))
	writeFile(t, fs, "/b", []byte("bee"))

	// Property 4.
	err := fs.Rename("/a", "/b", false)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, pattern(300), readFile(t, fs, "/a"))
	assert.Equal(t, []byte("bee"), readFile(t, fs, "/b"))

	// Property 5.
	require.NoError(t, fs.Rename("/a", "/b", true))
	ok, err := fs.Exists("/a")
	require.NoError(t, err)
	assert.False(t, ok)
	size, err := fs.Filesize("/b")
	require.NoError(t, err)
	assert.EqualValues(t, 300, size)
	assert.Equal(t, pattern(300), readFile(t, fs, "/b"))

	require.NoError(t, fs.Mkdirs("/d"))
	assert.ErrorIs(t, fs.Rename("/d", "/d/sub", false), ErrInvalidArgument)
	assert.ErrorIs(t, fs.Rename("/missing", "/x", false), ErrNotFound)
	require.NoError(t, fs.Rename("/b", "/d/b", false))
	names, err := fs.Readdir("/d")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestInputChannel_SeekTellRead(t *testing.T) {
	fs := newClient(t, startNode(t))
	data := pattern(200)
	writeFile(t, fs, "/f", data)

	in, err := fs.Open("/f")
	require.NoError(t, err)

	// Property 6.
	for _, n := range []int64{0, 1, 63, 64, 65, 128, 199, 200} {
		pos, err := in.Seek(n, io.SeekStart)
		require.NoError(t, err)
		assert.Equal(t, n, pos)
		assert.Equal(t, n, in.Tell())
	}

	_, err = in.Seek(40, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 80)
	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 50, n, "reads are capped at MaxReadSize")
	assert.Equal(t, data[40:90], buf[:n])
	assert.EqualValues(t, 90, in.Tell())

	pos, err := in.Seek(-10, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 80, pos)
	pos, err = in.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 195, pos)
	n, err = in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, data[195:], buf[:n])

	n, err = in.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	// Past end of file is allowed and reads as EOF.
	_, err = in.Seek(1000, io.SeekStart)
	require.NoError(t, err)
	_, err = in.Read(buf)
	assert.Equal(t, io.EOF, err)

	_, err = in.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = in.Seek(0, 42)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, in.Close())
	_, err = in.Read(buf)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = in.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, in.Close(), ErrInvalidState)
}

func TestOutputChannel_ShortWrite(t *testing.T) {
	fs := newClient(t, startNode(t))

	out, err := fs.Create("/f")
	require.NoError(t, err)
	n, err := out.Write(pattern(50))
	require.NoError(t, err)
	require.Equal(t, 50, n)

	require.NoError(t, fs.Remove("/f"))

	// Filling the buffer forces a flush against the removed file.
	n, err = out.Write(pattern(60))
	require.Error(t, err)
	assert.Less(t, n, 60)
	assert.ErrorIs(t, err, ErrIO)
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.EqualValues(t, 0, out.Tell())

	// The failed tail was dropped, so there is nothing left to flush.
	require.NoError(t, out.Close())
	assert.ErrorIs(t, out.Close(), ErrInvalidState)
}

func TestKfsAccess_GetDataLocation(t *testing.T) {
	node := startNode(t)
	fs := newClient(t, node)
	writeFile(t, fs, "/f", pattern(3*testChunkSize+10))

	locs, err := fs.GetDataLocation("/f", 10, 512)
	require.NoError(t, err)
	require.Len(t, locs, 4)
	for _, replicas := range locs {
		assert.Equal(t, []string{node.Addr()}, replicas)
	}

	locs, err = fs.GetDataLocation("/f", testChunkSize, testChunkSize)
	require.NoError(t, err)
	assert.Len(t, locs, 1)

	// Ranges overlapping no chunk give an empty table, not an error.
	for _, r := range [][2]int64{{0, 0}, {1000, 10}, {3*testChunkSize + 10, 1}} {
		locs, err = fs.GetDataLocation("/f", r[0], r[1])
		require.NoError(t, err)
		assert.NotNil(t, locs)
		assert.Empty(t, locs)
	}
	writeFile(t, fs, "/empty", nil)
	locs, err = fs.GetDataLocation("/empty", 0, 100)
	require.NoError(t, err)
	assert.NotNil(t, locs)
	assert.Empty(t, locs)

	_, err = fs.GetDataLocation("/missing", 0, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, fs.Mkdirs("/d"))
	_, err = fs.GetDataLocation("/d", 0, 1)
	assert.ErrorIs(t, err, ErrIsADirectory)
	_, err = fs.GetDataLocation("/f", -1, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKfsAccess_Replication(t *testing.T) {
	fs := newClient(t, startNode(t))
	writeFile(t, fs, "/f", pattern(10))

	r, err := fs.GetReplication("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 1, r, "capped by the single live server")

	r, err = fs.SetReplication("/f", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r)

	_, err = fs.SetReplication("/f", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fs.GetReplication("/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutputChannel_LargeWrite(t *testing.T) {
	fs := newClient(t, startNode(t))
	data := bytes.Repeat([]byte("kfs"), 400)

	out, err := fs.Create("/big")
	require.NoError(t, err)
	n, err := out.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, out.Close())

	assert.Equal(t, data, readFile(t, fs, "/big"))
	info, err := fs.Stat("/big")
	require.NoError(t, err)
	assert.Equal(t, (len(data)+testChunkSize-1)/testChunkSize, info.ChunkCount)
}

func TestOutputChannel_TransferLimit(t *testing.T) {
	node := startNodeWithChunkSize(t, 1<<20)
	cfg := config.DefaultClientConfig()
	cfg.ServerAddr = node.Addr()
	cfg.WriteBufferSize = config.MaxTransferSize
	cfg.MaxReadSize = config.MaxTransferSize
	fs, err := NewKfsAccessWithConfig(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	// Larger than grpc's default 4 MiB message limit once JSON-encoded.
	data := pattern(5 << 20)
	writeFile(t, fs, "/big", data)
	size, err := fs.Filesize("/big")
	require.NoError(t, err)
	assert.EqualValues(t, len(data), size)

	in, err := fs.Open("/big")
	require.NoError(t, err)
	buf := make([]byte, len(data))
	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n, "one read returns the whole file")
	assert.True(t, bytes.Equal(data, buf))
	require.NoError(t, in.Close())

	cfg.WriteBufferSize = config.MaxTransferSize + 1
	_, err = NewKfsAccessWithConfig(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKfsAccess_ConcurrentClients(t *testing.T) {
	fs := newClient(t, startNode(t))
	require.NoError(t, fs.Mkdirs("/c"))

	const workers = 8
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			path := fmt.Sprintf("/c/f%d", w)
			want := bytes.Repeat([]byte{byte('a' + w)}, 3*testChunkSize+w*7)

			out, err := fs.Create(path)
			if err != nil {
				return err
			}
			for off := 0; off < len(want); off += 41 {
				if _, err := out.Write(want[off:min(off+41, len(want))]); err != nil {
					return err
				}
			}
			if err := out.Close(); err != nil {
				return err
			}

			in, err := fs.Open(path)
			if err != nil {
				return err
			}
			got, err := io.ReadAll(in)
			if cerr := in.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if !bytes.Equal(got, want) {
				return fmt.Errorf("%s: read %d bytes that differ from the %d written", path, len(got), len(want))
			}
			if _, err := fs.Stat(path); err != nil {
				return err
			}
			return fs.Remove(path)
		})
	}
	require.NoError(t, g.Wait())

	names, err := fs.Readdir("/c")
	require.NoError(t, err)
	assert.Empty(t, names)
	require.NoError(t, fs.Rmdir("/c"))
}

func TestKfsAccess_CloseWhileInUse(t *testing.T) {
	fs := newClient(t, startNode(t))
	writeFile(t, fs, "/f", pattern(10))

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 20; i++ {
				_, err := fs.Stat("/f")
				if err != nil && !errors.Is(err, ErrInvalidState) {
					return err
				}
			}
			return nil
		})
	}
	closeErr := fs.Close()
	require.NoError(t, g.Wait())
	require.NoError(t, closeErr)
	_, err := fs.Stat("/f")
	assert.ErrorIs(t, err, ErrInvalidState)
}
