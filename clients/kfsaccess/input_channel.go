package kfsaccess

import (
	"fmt"
	"io"
	"sync"
)

// InputChannel reads a file from a movable cursor.
type InputChannel struct {
	fs      *KfsAccess
	path    string
	maxRead int

	mu     sync.Mutex
	pos    int64
	closed bool
}

var _ io.ReadSeekCloser = (*InputChannel)(nil)

func newInputChannel(fs *KfsAccess, path string, maxRead int) *InputChannel {
	return &InputChannel{fs: fs, path: path, maxRead: maxRead}
}

func (in *InputChannel) Path() string { return in.path }

// Read fills p from the cursor and advances it. Near end of file n may be
// short; at or past it Read returns 0, io.EOF.
func (in *InputChannel) Read(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return 0, newError("read", in.path, KindInvalidState, nil)
	}
	if len(p) == 0 {
		return 0, nil
	}

	data, err := in.fs.readAt(in.path, in.pos, min(len(p), in.maxRead))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, data)
	in.pos += int64(n)
	return n, nil
}

// Seek moves the cursor. Positions past end of file are allowed; reading
// there yields io.EOF.
func (in *InputChannel) Seek(offset int64, whence int) (int64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return 0, newError("seek", in.path, KindInvalidState, nil)
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = in.pos
	case io.SeekEnd:
		size, err := in.fs.Filesize(in.path)
		if err != nil {
			return 0, err
		}
		base = size
	default:
		return 0, newError("seek", in.path, KindInvalidArgument, fmt.Errorf("bad whence %d", whence))
	}

	pos := base + offset
	if pos < 0 {
		return 0, newError("seek", in.path, KindInvalidArgument, fmt.Errorf("negative position %d", pos))
	}
	in.pos = pos
	return pos, nil
}

func (in *InputChannel) Tell() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pos
}

func (in *InputChannel) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return newError("close", in.path, KindInvalidState, nil)
	}
	in.closed = true
	return nil
}
