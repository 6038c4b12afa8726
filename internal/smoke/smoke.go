// Package smoke drives a metaserver through one end-to-end pass over the
// client facade: directories, a written file, chunk locations, renames,
// reads and cleanup.
package smoke

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/AnishMulay/kfsaccess/clients/kfsaccess"
	"golang.org/x/exp/rand"
)

const (
	BaseDir  = "jtest"
	DataSize = 2048
	Seed     = 100
)

// ErrCheckFailed marks a scenario step whose result was wrong, as opposed
// to one whose call failed.
var ErrCheckFailed = errors.New("check failed")

// GenerateData returns n lowercase letters from a PRNG seeded with seed.
func GenerateData(seed uint64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('a' + r.Intn(26))
	}
	return buf
}

// guard closes c when Run returns early. Close marks it done so the
// deferred release does not close it a second time.
type guard struct {
	c    io.Closer
	done bool
}

func (g *guard) Close() error {
	g.done = true
	return g.c.Close()
}

func (g *guard) release() {
	if !g.done {
		_ = g.c.Close()
	}
}

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCheckFailed, fmt.Sprintf(format, args...))
}

// Run executes the scenario against fs, reporting progress on out. It
// stops at the first failure.
func Run(fs *kfsaccess.KfsAccess, out io.Writer) error {
	path := BaseDir + "/foo.1"
	npath := BaseDir + "/foo.2"

	exists, err := fs.Exists(BaseDir)
	if err != nil {
		return err
	}
	if !exists {
		if err := fs.Mkdirs(BaseDir); err != nil {
			return fmt.Errorf("unable to mkdir %s: %w", BaseDir, err)
		}
	}
	if ok, err := fs.IsDirectory(BaseDir); err != nil {
		return err
	} else if !ok {
		return failf("%s is not a directory", BaseDir)
	}

	ch, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", path, err)
	}
	chGuard := &guard{c: ch}
	defer chGuard.release()

	entries, err := fs.Readdir(BaseDir)
	if err != nil {
		return fmt.Errorf("readdir %s: %w", BaseDir, err)
	}
	fmt.Fprintln(out, "Readdir returned:")
	for _, e := range entries {
		fmt.Fprintln(out, e)
	}

	data := GenerateData(Seed, DataSize)
	n, err := ch.Write(data)
	if err != nil {
		return fmt.Errorf("was able to write only %d bytes: %w", n, err)
	}
	if n != len(data) {
		return failf("was able to write only %d bytes", n)
	}
	if err := ch.Sync(); err != nil {
		return err
	}
	if err := chGuard.Close(); err != nil {
		return err
	}

	fmt.Fprintln(out, "Looking up blocks for file:", path)
	locs, err := fs.GetDataLocation(path, 10, 512)
	if err != nil {
		return fmt.Errorf("get locations: %w", err)
	}
	if len(locs) == 0 {
		return failf("no chunk locations for %s", path)
	}
	fmt.Fprintln(out, "Block Locations:")
	for i, replicas := range locs {
		fmt.Fprintf(out, "chunk %d : %v\n", i, replicas)
	}

	size, err := fs.Filesize(path)
	if err != nil {
		return err
	}
	if size != int64(len(data)) {
		return failf("file size is %d, want %d", size, len(data))
	}

	if err := fs.Rename(path, npath, true); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if ok, err := fs.Exists(path); err != nil {
		return err
	} else if ok {
		return failf("%s still exists after rename", path)
	}

	empty, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("recreate %s: %w", path, err)
	}
	if err := empty.Close(); err != nil {
		return err
	}
	if ok, err := fs.Exists(path); err != nil {
		return err
	} else if !ok {
		return failf("%s doesn't exist", path)
	}

	err = fs.Rename(npath, path, false)
	if err == nil {
		return failf("rename with overwrite disabled succeeded")
	}
	if !errors.Is(err, kfsaccess.ErrAlreadyExists) {
		return fmt.Errorf("rename without overwrite: %w", err)
	}

	if err := fs.Remove(path); err != nil {
		return err
	}
	if ok, err := fs.IsFile(npath); err != nil {
		return err
	} else if !ok {
		return failf("%s is not a normal file", npath)
	}

	in, err := fs.Open(npath)
	if err != nil {
		return fmt.Errorf("open %s: %w", npath, err)
	}
	inGuard := &guard{c: in}
	defer inGuard.release()

	buf := make([]byte, 128)
	if _, err := io.ReadFull(in, buf); err != nil {
		return fmt.Errorf("read %s: %w", npath, err)
	}
	if !bytes.Equal(buf, data[:128]) {
		for i := range buf {
			if buf[i] != data[i] {
				return failf("data mismatch at byte %d", i)
			}
		}
	}

	if _, err := in.Seek(40, io.SeekStart); err != nil {
		return err
	}
	if pos := in.Tell(); pos != 40 {
		return failf("after seek, we are at %d", pos)
	}
	if err := inGuard.Close(); err != nil {
		return err
	}

	if err := fs.Remove(npath); err != nil {
		return err
	}
	if err := fs.Rmdir(BaseDir); err != nil {
		return fmt.Errorf("unable to remove %s: %w", BaseDir, err)
	}

	fmt.Fprintln(out, "All done...Test passed!")
	return nil
}
