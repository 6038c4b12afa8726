package localdisc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cs "github.com/AnishMulay/kfsaccess/internal/chunk_service"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
)

const chunkExt = ".chunk"

type LocalDiscChunkService struct {
	baseDir string
	ls      log_service.LogService
}

func NewLocalDiscChunkService(baseDir string, ls log_service.LogService) (*LocalDiscChunkService, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}
	return &LocalDiscChunkService{
		baseDir: baseDir,
		ls:      ls,
	}, nil
}

func (s *LocalDiscChunkService) chunkPath(chunkID string) (string, error) {
	if chunkID == "" || strings.ContainsAny(chunkID, `/\`) || chunkID == "." || chunkID == ".." {
		return "", fmt.Errorf("%w: %q", cs.ErrInvalidChunkID, chunkID)
	}
	return filepath.Join(s.baseDir, chunkID+chunkExt), nil
}

// WriteChunk replaces the chunk atomically: the bytes go to a temp file
// which is then renamed over the old chunk.
func (s *LocalDiscChunkService) WriteChunk(chunkID string, data []byte) error {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Writing chunk",
		Metadata: map[string]any{"chunkID": chunkID, "size": len(data)},
	})

	path, err := s.chunkPath(chunkID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.baseDir, chunkID+".*.tmp")
	if err != nil {
		return s.writeFailed(chunkID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.writeFailed(chunkID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return s.writeFailed(chunkID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return s.writeFailed(chunkID, err)
	}
	return nil
}

func (s *LocalDiscChunkService) writeFailed(chunkID string, err error) error {
	s.ls.Error(log_service.LogEvent{
		Message:  "Failed to write chunk",
		Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
	})
	return fmt.Errorf("%w: %s: %v", cs.ErrChunkWriteFailed, chunkID, err)
}

func (s *LocalDiscChunkService) ReadChunk(chunkID string) ([]byte, error) {
	path, err := s.chunkPath(chunkID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", cs.ErrChunkNotFound, chunkID)
	}
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to read chunk",
			Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %s: %v", cs.ErrChunkReadFailed, chunkID, err)
	}
	return data, nil
}

func (s *LocalDiscChunkService) DeleteChunk(chunkID string) error {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Deleting chunk",
		Metadata: map[string]any{"chunkID": chunkID},
	})

	path, err := s.chunkPath(chunkID)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", cs.ErrChunkNotFound, chunkID)
	}
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to delete chunk",
			Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
		})
		return fmt.Errorf("%w: %s: %v", cs.ErrChunkDeleteFailed, chunkID, err)
	}
	return nil
}

// ListChunks returns the ids of all stored chunks, sorted.
func (s *LocalDiscChunkService) ListChunks() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cs.ErrChunkReadFailed, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), chunkExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), chunkExt))
	}
	sort.Strings(ids)
	return ids, nil
}

var _ cs.ChunkService = (*LocalDiscChunkService)(nil)
