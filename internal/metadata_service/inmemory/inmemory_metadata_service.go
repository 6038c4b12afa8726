package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AnishMulay/kfsaccess/internal/log_service"
	pms "github.com/AnishMulay/kfsaccess/internal/metadata_service"
	"github.com/google/uuid"
)

const (
	fsID            = "00000000-0000-0000-0000-000000000000"
	rootInodeID     = "00000000-0000-0000-0000-000000000001"
	maxFilenameSize = 255
	maxFileSize     = 1 << 40 // 1TB
)

// InMemoryMetadataService keeps the whole namespace in one map guarded by a
// single lock, so every mutation (rename included) is atomic.
type InMemoryMetadataService struct {
	mu        sync.RWMutex
	inodes    map[string]*pms.Inode
	chunkSize int64
	started   bool

	placer pms.Placer
	ls     log_service.LogService
}

func NewInMemoryMetadataService(chunkSize int64, placer pms.Placer, ls log_service.LogService) *InMemoryMetadataService {
	return &InMemoryMetadataService{
		inodes:    make(map[string]*pms.Inode),
		chunkSize: chunkSize,
		placer:    placer,
		ls:        ls,
	}
}

// --- Lifecycle ---

func (s *InMemoryMetadataService) Start() error {
	s.ls.Info(log_service.LogEvent{
		Message:  "Starting In-Memory Metadata Service",
		Metadata: map[string]any{"chunkSize": s.chunkSize},
	})

	if s.chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", pms.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inodes[rootInodeID]; !ok {
		now := time.Now()
		s.inodes[rootInodeID] = &pms.Inode{
			InodeID:    rootInodeID,
			Type:       pms.TypeDirectory,
			CreateTime: now,
			ModifyTime: now,
			ChangeTime: now,
			Children:   make(map[string]string),
		}
		s.ls.Info(log_service.LogEvent{Message: "Bootstrapped Root Inode", Metadata: map[string]any{"id": rootInodeID}})
	}
	s.started = true
	return nil
}

func (s *InMemoryMetadataService) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping In-Memory Metadata Service"})
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// --- Path helpers (must be called with the lock held) ---

func splitPath(path string) ([]string, error) {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("%w: %q component in %q", pms.ErrInvalid, part, path)
		}
		if len(part) > maxFilenameSize {
			return nil, fmt.Errorf("%w: name too long", pms.ErrInvalid)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func (s *InMemoryMetadataService) resolve(parts []string) (*pms.Inode, error) {
	if !s.started {
		return nil, pms.ErrNotStarted
	}
	cur := s.inodes[rootInodeID]
	for _, part := range parts {
		if cur.Type != pms.TypeDirectory {
			return nil, pms.ErrNotDir
		}
		nextID, ok := cur.Children[part]
		if !ok {
			return nil, pms.ErrNotFound
		}
		cur = s.inodes[nextID]
	}
	return cur, nil
}

// resolveParent returns the directory holding the last component of parts.
func (s *InMemoryMetadataService) resolveParent(parts []string) (*pms.Inode, string, error) {
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("%w: root has no parent", pms.ErrInvalid)
	}
	parent, err := s.resolve(parts[:len(parts)-1])
	if err != nil {
		return nil, "", err
	}
	if parent.Type != pms.TypeDirectory {
		return nil, "", pms.ErrNotDir
	}
	return parent, parts[len(parts)-1], nil
}

func (s *InMemoryMetadataService) lookup(path string) (*pms.Inode, []string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, nil, err
	}
	inode, err := s.resolve(parts)
	if err != nil {
		return nil, nil, err
	}
	return inode, parts, nil
}

func (s *InMemoryMetadataService) newInode(t pms.InodeType, now time.Time) *pms.Inode {
	inode := &pms.Inode{
		InodeID:    uuid.New().String(),
		Type:       t,
		CreateTime: now,
		ModifyTime: now,
		ChangeTime: now,
	}
	if t == pms.TypeDirectory {
		inode.Children = make(map[string]string)
	}
	s.inodes[inode.InodeID] = inode
	return inode
}

func touch(dir *pms.Inode, now time.Time) {
	dir.ModifyTime = now
	dir.ChangeTime = now
}

func chunkIDs(inode *pms.Inode) []string {
	if inode.Type != pms.TypeFile {
		return nil
	}
	ids := make([]string, 0, len(inode.Chunks))
	for _, c := range inode.Chunks {
		ids = append(ids, c.ChunkID)
	}
	return ids
}

func (s *InMemoryMetadataService) capReplication(n int16) int16 {
	if n <= 0 {
		n = 1
	}
	if s.placer != nil {
		if limit := s.placer.MaxReplicas(); limit > 0 && int(n) > limit {
			n = int16(limit)
		}
	}
	return n
}

func (s *InMemoryMetadataService) place(chunkID string, replicas int16) ([]string, error) {
	if s.placer == nil {
		return []string{}, nil
	}
	locs, err := s.placer.PlaceChunk(chunkID, int(replicas))
	if err != nil {
		return nil, fmt.Errorf("failed to place chunk %s: %w", chunkID, err)
	}
	return locs, nil
}

func attributes(inode *pms.Inode, name string) *pms.Attributes {
	return &pms.Attributes{
		InodeID:     inode.InodeID,
		Name:        name,
		Type:        inode.Type,
		Size:        inode.FileSize,
		Replication: inode.Replication,
		ChunkCount:  len(inode.Chunks),
		CreateTime:  inode.CreateTime,
		ModifyTime:  inode.ModifyTime,
		ChangeTime:  inode.ChangeTime,
	}
}

func clone(inode *pms.Inode) *pms.Inode {
	c := *inode
	if inode.Children != nil {
		c.Children = make(map[string]string, len(inode.Children))
		for k, v := range inode.Children {
			c.Children[k] = v
		}
	}
	if inode.Chunks != nil {
		c.Chunks = make([]pms.ChunkInfo, len(inode.Chunks))
		for i, ch := range inode.Chunks {
			ch.Locations = append([]string(nil), ch.Locations...)
			c.Chunks[i] = ch
		}
	}
	return &c
}

// --- Read Operations ---

func (s *InMemoryMetadataService) LookupPath(ctx context.Context, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inode, _, err := s.lookup(path)
	if err != nil {
		return "", err
	}
	return inode.InodeID, nil
}

func (s *InMemoryMetadataService) GetInode(ctx context.Context, inodeID string) (*pms.Inode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inode, ok := s.inodes[inodeID]
	if !ok {
		return nil, pms.ErrNotFound
	}
	return clone(inode), nil
}

func (s *InMemoryMetadataService) GetAttributes(ctx context.Context, path string) (*pms.Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inode, parts, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	name := "/"
	if len(parts) > 0 {
		name = parts[len(parts)-1]
	}
	return attributes(inode, name), nil
}

func (s *InMemoryMetadataService) ReadDir(ctx context.Context, path string) ([]pms.DirEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, _, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	if dir.Type != pms.TypeDirectory {
		return nil, pms.ErrNotDir
	}

	entries := make([]pms.DirEntry, 0, len(dir.Children))
	for name, id := range dir.Children {
		entries = append(entries, pms.DirEntry{
			Name:    name,
			InodeID: id,
			Type:    s.inodes[id].Type,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *InMemoryMetadataService) ReadDirPlus(ctx context.Context, path string) ([]pms.DirEntryPlus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, _, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	if dir.Type != pms.TypeDirectory {
		return nil, pms.ErrNotDir
	}

	entries := make([]pms.DirEntryPlus, 0, len(dir.Children))
	for name, id := range dir.Children {
		entries = append(entries, pms.DirEntryPlus{
			Name:  name,
			Inode: attributes(s.inodes[id], name),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *InMemoryMetadataService) GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &pms.FileSystemInfo{
		FsID:            fsID,
		ChunkSize:       s.chunkSize,
		MaxFilenameSize: maxFilenameSize,
		MaxFileSize:     maxFileSize,
		InodeCount:      int64(len(s.inodes)),
	}, nil
}

// --- Namespace mutations ---

func (s *InMemoryMetadataService) Mkdirs(ctx context.Context, path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.resolve(nil)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, part := range parts {
		if childID, ok := cur.Children[part]; ok {
			child := s.inodes[childID]
			if child.Type != pms.TypeDirectory {
				return fmt.Errorf("%w: %s", pms.ErrNotDir, part)
			}
			cur = child
			continue
		}
		dir := s.newInode(pms.TypeDirectory, now)
		cur.Children[part] = dir.InodeID
		touch(cur, now)
		cur = dir
	}
	return nil
}

func (s *InMemoryMetadataService) Create(ctx context.Context, path string, exclusive bool, replication int16) (*pms.Inode, []string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := s.resolveParent(parts)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if existingID, ok := parent.Children[name]; ok {
		existing := s.inodes[existingID]
		if existing.Type == pms.TypeDirectory {
			return nil, nil, pms.ErrIsDir
		}
		if exclusive {
			return nil, nil, pms.ErrAlreadyExists
		}
		released := chunkIDs(existing)
		existing.FileSize = 0
		existing.Chunks = nil
		touch(existing, now)
		s.ls.Debug(log_service.LogEvent{
			Message:  "Truncated existing file",
			Metadata: map[string]any{"path": path, "releasedChunks": len(released)},
		})
		return clone(existing), released, nil
	}

	inode := s.newInode(pms.TypeFile, now)
	inode.Replication = s.capReplication(replication)
	parent.Children[name] = inode.InodeID
	touch(parent, now)
	return clone(inode), nil, nil
}

func (s *InMemoryMetadataService) Remove(ctx context.Context, path string) ([]string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := s.resolveParent(parts)
	if err != nil {
		return nil, err
	}
	childID, ok := parent.Children[name]
	if !ok {
		return nil, pms.ErrNotFound
	}
	child := s.inodes[childID]
	if child.Type == pms.TypeDirectory {
		return nil, pms.ErrIsDir
	}

	delete(parent.Children, name)
	delete(s.inodes, childID)
	touch(parent, time.Now())
	return chunkIDs(child), nil
}

func (s *InMemoryMetadataService) Rmdir(ctx context.Context, path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := s.resolveParent(parts)
	if err != nil {
		return err
	}
	childID, ok := parent.Children[name]
	if !ok {
		return pms.ErrNotFound
	}
	child := s.inodes[childID]
	if child.Type != pms.TypeDirectory {
		return pms.ErrNotDir
	}
	if len(child.Children) > 0 {
		return pms.ErrNotEmpty
	}

	delete(parent.Children, name)
	delete(s.inodes, childID)
	touch(parent, time.Now())
	return nil
}

func isAncestor(parent, child []string) bool {
	if len(child) <= len(parent) {
		return false
	}
	for i := range parent {
		if parent[i] != child[i] {
			return false
		}
	}
	return true
}

func (s *InMemoryMetadataService) Rename(ctx context.Context, src, dst string, overwrite bool) ([]string, error) {
	srcParts, err := splitPath(src)
	if err != nil {
		return nil, err
	}
	dstParts, err := splitPath(dst)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	srcParent, srcName, err := s.resolveParent(srcParts)
	if err != nil {
		return nil, err
	}
	srcID, ok := srcParent.Children[srcName]
	if !ok {
		return nil, pms.ErrNotFound
	}
	srcInode := s.inodes[srcID]

	dstParent, dstName, err := s.resolveParent(dstParts)
	if err != nil {
		return nil, err
	}
	if srcInode.Type == pms.TypeDirectory && isAncestor(srcParts, dstParts) {
		return nil, fmt.Errorf("%w: cannot move %s into itself", pms.ErrInvalid, src)
	}

	var released []string
	if dstID, exists := dstParent.Children[dstName]; exists {
		if dstID == srcID {
			return nil, nil
		}
		if !overwrite {
			return nil, pms.ErrAlreadyExists
		}
		dstInode := s.inodes[dstID]
		switch {
		case dstInode.Type == pms.TypeDirectory && srcInode.Type != pms.TypeDirectory:
			return nil, pms.ErrIsDir
		case dstInode.Type != pms.TypeDirectory && srcInode.Type == pms.TypeDirectory:
			return nil, pms.ErrNotDir
		case dstInode.Type == pms.TypeDirectory && len(dstInode.Children) > 0:
			return nil, pms.ErrNotEmpty
		}
		released = chunkIDs(dstInode)
		delete(s.inodes, dstID)
	}

	delete(srcParent.Children, srcName)
	dstParent.Children[dstName] = srcID

	now := time.Now()
	touch(srcParent, now)
	touch(dstParent, now)
	srcInode.ChangeTime = now

	s.ls.Debug(log_service.LogEvent{
		Message:  "Renamed entry",
		Metadata: map[string]any{"src": src, "dst": dst, "overwrite": overwrite},
	})
	return released, nil
}

// --- Data plane support ---

func (s *InMemoryMetadataService) fileInode(inodeID string) (*pms.Inode, error) {
	if !s.started {
		return nil, pms.ErrNotStarted
	}
	inode, ok := s.inodes[inodeID]
	if !ok {
		return nil, pms.ErrNotFound
	}
	if inode.Type != pms.TypeFile {
		return nil, pms.ErrIsDir
	}
	return inode, nil
}

func (s *InMemoryMetadataService) PrepareWrite(ctx context.Context, inodeID string, offset, length int64) ([]pms.ChunkLocation, error) {
	if offset < 0 || length <= 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", pms.ErrInvalid, offset, length)
	}
	if offset+length > maxFileSize {
		return nil, fmt.Errorf("%w: write past maximum file size", pms.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.fileInode(inodeID)
	if err != nil {
		return nil, err
	}

	first := offset / s.chunkSize
	last := (offset + length - 1) / s.chunkSize

	// Chunks skipped over by a write past EOF are allocated as holes with
	// version 0; they read back as zeros.
	for int64(len(inode.Chunks)) <= last {
		id := uuid.New().String()
		locs, err := s.place(id, inode.Replication)
		if err != nil {
			return nil, err
		}
		inode.Chunks = append(inode.Chunks, pms.ChunkInfo{ChunkID: id, Locations: locs})
	}

	out := make([]pms.ChunkLocation, 0, last-first+1)
	for i := first; i <= last; i++ {
		c := &inode.Chunks[i]
		c.Version++
		out = append(out, pms.ChunkLocation{
			Index:     i,
			Offset:    i * s.chunkSize,
			ChunkID:   c.ChunkID,
			Version:   c.Version,
			Locations: append([]string(nil), c.Locations...),
		})
	}
	return out, nil
}

func (s *InMemoryMetadataService) CommitWrite(ctx context.Context, inodeID string, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.fileInode(inodeID)
	if err != nil {
		return err
	}
	if end > inode.FileSize {
		inode.FileSize = end
	}
	touch(inode, time.Now())
	return nil
}

func (s *InMemoryMetadataService) SetReplication(ctx context.Context, path string, replication int16) (int16, error) {
	if replication <= 0 {
		return 0, fmt.Errorf("%w: replication must be positive", pms.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inode, _, err := s.lookup(path)
	if err != nil {
		return 0, err
	}
	if inode.Type != pms.TypeFile {
		return 0, pms.ErrIsDir
	}

	effective := s.capReplication(replication)
	for i := range inode.Chunks {
		locs, err := s.place(inode.Chunks[i].ChunkID, effective)
		if err != nil {
			return 0, err
		}
		inode.Chunks[i].Locations = locs
	}
	inode.Replication = effective
	inode.ChangeTime = time.Now()

	s.ls.Info(log_service.LogEvent{
		Message:  "Replication changed",
		Metadata: map[string]any{"path": path, "requested": replication, "effective": effective},
	})
	return effective, nil
}

var _ pms.MetadataService = (*InMemoryMetadataService)(nil)
