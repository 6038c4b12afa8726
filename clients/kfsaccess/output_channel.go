package kfsaccess

import (
	"fmt"
	"io"
	"sync"
)

// OutputChannel writes a file sequentially through a write-behind buffer.
// Data becomes visible to Filesize and readers once Sync or Close flushes
// it.
type OutputChannel struct {
	fs   *KfsAccess
	path string

	// mu protects everything below.
	mu      sync.Mutex
	offset  int64 // file offset of buf[0]
	buf     []byte
	bufSize int
	closed  bool
}

var _ io.WriteCloser = (*OutputChannel)(nil)

func newOutputChannel(fs *KfsAccess, path string, bufSize int) *OutputChannel {
	return &OutputChannel{
		fs:      fs,
		path:    path,
		buf:     make([]byte, 0, bufSize),
		bufSize: bufSize,
	}
}

func (o *OutputChannel) Path() string { return o.path }

// Write appends p at the cursor. When a flush fails, n counts the bytes of
// p the metaserver committed, the cursor moves back to the end of the
// committed data and err wraps io.ErrShortWrite.
func (o *OutputChannel) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, newError("write", o.path, KindInvalidState, nil)
	}

	start := o.offset + int64(len(o.buf))
	n := 0
	for n < len(p) {
		k := min(o.bufSize-len(o.buf), len(p)-n)
		o.buf = append(o.buf, p[n:n+k]...)
		n += k
		if len(o.buf) < o.bufSize {
			continue
		}
		if err := o.flushLocked("write"); err != nil {
			return int(max(0, o.offset-start)), err
		}
	}
	return n, nil
}

// Sync pushes buffered bytes to the metaserver. The handle stays open.
func (o *OutputChannel) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return newError("sync", o.path, KindInvalidState, nil)
	}
	return o.flushLocked("sync")
}

// Close flushes and releases the handle. The handle is closed even when
// the final flush fails.
func (o *OutputChannel) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return newError("close", o.path, KindInvalidState, nil)
	}
	o.closed = true
	err := o.flushLocked("close")
	o.buf = nil
	return err
}

// Tell is the write cursor, counting buffered bytes.
func (o *OutputChannel) Tell() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offset + int64(len(o.buf))
}

// flushLocked writes the buffer at o.offset. On failure the uncommitted
// tail is dropped.
func (o *OutputChannel) flushLocked(op string) error {
	if len(o.buf) == 0 {
		return nil
	}

	total := len(o.buf)
	written, err := o.fs.writeAt(o.path, o.offset, o.buf)
	if err != nil {
		if KindOf(err) == KindInvalidState {
			return err
		}
		written = min(max(written, 0), int64(total))
		o.offset += written
		o.buf = o.buf[:0]
		return newError(op, o.path, KindIOError,
			fmt.Errorf("%w: %d of %d bytes: %w", io.ErrShortWrite, written, total, err))
	}

	o.offset += int64(total)
	o.buf = o.buf[:0]
	return nil
}
