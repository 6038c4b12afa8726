package simple

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chunksvc "github.com/AnishMulay/kfsaccess/internal/chunk_service"
	fsvc "github.com/AnishMulay/kfsaccess/internal/file_service"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
	pms "github.com/AnishMulay/kfsaccess/internal/metadata_service"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// maxParallelChunkReads bounds the goroutines a single Read fans out to.
const maxParallelChunkReads = 8

type SimpleFileService struct {
	ms        pms.MetadataService
	cs        chunksvc.ChunkService
	ls        log_service.LogService
	chunkSize int64

	// writeMu serializes chunk read-modify-write cycles and the namespace
	// changes that release chunks.
	writeMu sync.Mutex
}

func NewSimpleFileService(ms pms.MetadataService, cs chunksvc.ChunkService, ls log_service.LogService) *SimpleFileService {
	return &SimpleFileService{
		ms: ms,
		cs: cs,
		ls: ls,
	}
}

// --- Lifecycle ---

func (s *SimpleFileService) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting Simple File Service"})

	if err := s.ms.Start(); err != nil {
		return err
	}

	info, err := s.ms.GetFsInfo(context.Background())
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to fetch FS Info during startup",
			Metadata: map[string]any{"error": err.Error()},
		})
		return err
	}
	s.chunkSize = info.ChunkSize
	s.ls.Info(log_service.LogEvent{
		Message:  "Configured File Service",
		Metadata: map[string]any{"chunkSize": s.chunkSize},
	})
	return nil
}

func (s *SimpleFileService) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping Simple File Service"})
	return s.ms.Stop()
}

func (s *SimpleFileService) fileInode(ctx context.Context, path string) (*pms.Inode, error) {
	id, err := s.ms.LookupPath(ctx, path)
	if err != nil {
		return nil, err
	}
	inode, err := s.ms.GetInode(ctx, id)
	if err != nil {
		return nil, err
	}
	if inode.Type != pms.TypeFile {
		return nil, pms.ErrIsDir
	}
	return inode, nil
}

// collect deletes released chunks. Failures are logged, never returned: the
// namespace change has already happened.
func (s *SimpleFileService) collect(chunkIDs []string) {
	var errs error
	for _, id := range chunkIDs {
		if err := s.cs.DeleteChunk(id); err != nil && !errors.Is(err, chunksvc.ErrChunkNotFound) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Failed to GC chunks",
			Metadata: map[string]any{"failed": len(multierr.Errors(errs)), "error": errs.Error()},
		})
	}
}

// --- Data Operations ---

func (s *SimpleFileService) Read(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Read Request",
		Metadata: map[string]any{"path": path, "offset": offset, "length": length},
	})

	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", pms.ErrInvalid, offset, length)
	}
	inode, err := s.fileInode(ctx, path)
	if err != nil {
		return nil, err
	}

	if offset >= inode.FileSize || length == 0 {
		return []byte{}, nil
	}
	if offset+length > inode.FileSize {
		length = inode.FileSize - offset
	}
	end := offset + length

	result := make([]byte, length)
	first := offset / s.chunkSize
	last := (end - 1) / s.chunkSize

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChunkReads)
	for i := first; i <= last && int(i) < len(inode.Chunks); i++ {
		chunk := inode.Chunks[i]
		chunkPos := i * s.chunkSize
		from := max(offset, chunkPos)
		to := min(end, chunkPos+s.chunkSize)

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := s.cs.ReadChunk(chunk.ChunkID)
			if errors.Is(err, chunksvc.ErrChunkNotFound) {
				// Hole; result is already zeroed.
				return nil
			}
			if err != nil {
				s.ls.Error(log_service.LogEvent{
					Message:  "Failed to read chunk",
					Metadata: map[string]any{"chunkID": chunk.ChunkID, "error": err.Error()},
				})
				return fmt.Errorf("%w: %v", fsvc.ErrChunkActionFailed, err)
			}
			start, stop := from-chunkPos, to-chunkPos
			if start < int64(len(data)) {
				copy(result[from-offset:to-offset], data[start:min(stop, int64(len(data)))])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SimpleFileService) Write(ctx context.Context, path string, offset int64, data []byte) (int64, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Write Request",
		Metadata: map[string]any{"path": path, "offset": offset, "len": len(data)},
	})

	if len(data) == 0 {
		if _, err := s.fileInode(ctx, path); err != nil {
			return 0, err
		}
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	inode, err := s.fileInode(ctx, path)
	if err != nil {
		return 0, err
	}

	chunks, err := s.ms.PrepareWrite(ctx, inode.InodeID, offset, int64(len(data)))
	if err != nil {
		return 0, err
	}

	end := offset + int64(len(data))
	var written int64
	for _, loc := range chunks {
		from := max(offset, loc.Offset)
		to := min(end, loc.Offset+s.chunkSize)
		piece := data[from-offset : to-offset]

		if err := s.writeChunkRange(loc.ChunkID, from-loc.Offset, piece); err != nil {
			// Keep what made it to disk visible.
			if written > 0 {
				_ = s.ms.CommitWrite(ctx, inode.InodeID, offset+written)
			}
			return written, err
		}
		written += int64(len(piece))
	}

	if err := s.ms.CommitWrite(ctx, inode.InodeID, end); err != nil {
		return 0, fmt.Errorf("%w: %w", fsvc.ErrMetadataActionFailed, err)
	}
	return written, nil
}

// writeChunkRange places piece at start within the chunk, reading the
// existing bytes first unless the whole chunk is replaced.
func (s *SimpleFileService) writeChunkRange(chunkID string, start int64, piece []byte) error {
	stop := start + int64(len(piece))

	var final []byte
	if start == 0 && stop == s.chunkSize {
		final = piece
	} else {
		existing, err := s.cs.ReadChunk(chunkID)
		if err != nil && !errors.Is(err, chunksvc.ErrChunkNotFound) {
			return fmt.Errorf("%w: %v", fsvc.ErrChunkActionFailed, err)
		}
		final = make([]byte, max(int64(len(existing)), stop))
		copy(final, existing)
		copy(final[start:], piece)
	}

	if err := s.cs.WriteChunk(chunkID, final); err != nil {
		return fmt.Errorf("%w: %v", fsvc.ErrChunkActionFailed, err)
	}
	return nil
}

func (s *SimpleFileService) GetDataLocation(ctx context.Context, path string, offset, length int64) ([][]string, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", pms.ErrInvalid, offset)
	}
	inode, err := s.fileInode(ctx, path)
	if err != nil {
		return nil, err
	}

	out := [][]string{}
	if length <= 0 || offset >= inode.FileSize {
		return out, nil
	}
	end := min(offset+length, inode.FileSize)
	first := offset / s.chunkSize
	last := (end - 1) / s.chunkSize
	for i := first; i <= last && int(i) < len(inode.Chunks); i++ {
		locs := append([]string{}, inode.Chunks[i].Locations...)
		out = append(out, locs)
	}
	return out, nil
}

// --- Namespace Operations ---

func (s *SimpleFileService) Stat(ctx context.Context, path string) (*pms.Attributes, error) {
	return s.ms.GetAttributes(ctx, path)
}

func (s *SimpleFileService) Mkdirs(ctx context.Context, path string) error {
	return s.ms.Mkdirs(ctx, path)
}

func (s *SimpleFileService) Create(ctx context.Context, path string, exclusive bool, replication int16) (*pms.Attributes, error) {
	s.writeMu.Lock()
	_, released, err := s.ms.Create(ctx, path, exclusive, replication)
	if err == nil {
		s.collect(released)
	}
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.ms.GetAttributes(ctx, path)
}

func (s *SimpleFileService) ReadDir(ctx context.Context, path string) ([]pms.DirEntry, error) {
	return s.ms.ReadDir(ctx, path)
}

func (s *SimpleFileService) ReadDirPlus(ctx context.Context, path string) ([]pms.DirEntryPlus, error) {
	return s.ms.ReadDirPlus(ctx, path)
}

func (s *SimpleFileService) Remove(ctx context.Context, path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	released, err := s.ms.Remove(ctx, path)
	if err != nil {
		return err
	}
	s.collect(released)
	return nil
}

func (s *SimpleFileService) Rmdir(ctx context.Context, path string) error {
	return s.ms.Rmdir(ctx, path)
}

func (s *SimpleFileService) Rename(ctx context.Context, src, dst string, overwrite bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	released, err := s.ms.Rename(ctx, src, dst, overwrite)
	if err != nil {
		return err
	}
	s.collect(released)
	return nil
}

func (s *SimpleFileService) SetReplication(ctx context.Context, path string, replication int16) (int16, error) {
	return s.ms.SetReplication(ctx, path, replication)
}

func (s *SimpleFileService) GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error) {
	return s.ms.GetFsInfo(ctx)
}

var _ fsvc.FileService = (*SimpleFileService)(nil)
