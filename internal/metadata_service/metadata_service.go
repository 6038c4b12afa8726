package metadata_service

import (
	"context"
	"time"
)

type InodeType int

const (
	TypeFile InodeType = iota
	TypeDirectory
)

func (t InodeType) String() string {
	if t == TypeDirectory {
		return "directory"
	}
	return "file"
}

// ChunkInfo is one entry of a file's chunk table. Version is bumped every
// time the chunk is rewritten.
type ChunkInfo struct {
	ChunkID   string   `json:"chunkId"`
	Version   int64    `json:"version"`
	Locations []string `json:"locations"`
}

// Inode is the fundamental metadata unit.
type Inode struct {
	InodeID     string
	Type        InodeType
	Replication int16

	CreateTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time

	FileSize int64

	// For Directories: name -> InodeID
	Children map[string]string `json:"children,omitempty"`

	// For Files: chunk i covers [i*ChunkSize, (i+1)*ChunkSize)
	Chunks []ChunkInfo `json:"chunks,omitempty"`
}

type Attributes struct {
	InodeID     string    `json:"inodeId"`
	Name        string    `json:"name"`
	Type        InodeType `json:"type"`
	Size        int64     `json:"size"`
	Replication int16     `json:"replication"`
	ChunkCount  int       `json:"chunkCount"`
	CreateTime  time.Time `json:"createTime"`
	ModifyTime  time.Time `json:"modifyTime"`
	ChangeTime  time.Time `json:"changeTime"`
}

type DirEntry struct {
	Name    string    `json:"name"`
	InodeID string    `json:"inodeId"`
	Type    InodeType `json:"type"`
}

type DirEntryPlus struct {
	Name  string      `json:"name"`
	Inode *Attributes `json:"inode"`
}

// ChunkLocation describes a chunk together with its position in the file.
type ChunkLocation struct {
	Index     int64    `json:"index"`
	Offset    int64    `json:"offset"`
	ChunkID   string   `json:"chunkId"`
	Version   int64    `json:"version"`
	Locations []string `json:"locations"`
}

type FileSystemInfo struct {
	FsID            string `json:"fsId"`
	ChunkSize       int64  `json:"chunkSize"`
	MaxFilenameSize int    `json:"maxFilenameSize"`
	MaxFileSize     int64  `json:"maxFileSize"`
	InodeCount      int64  `json:"inodeCount"`
}

// Placer chooses replica locations for new or re-placed chunks.
type Placer interface {
	PlaceChunk(chunkID string, replicas int) ([]string, error)
	MaxReplicas() int
}

// MetadataService owns the namespace. All paths are resolved from the root;
// operations that drop chunk data return the released chunk IDs so the
// caller can collect them.
type MetadataService interface {
	Start() error
	Stop() error

	LookupPath(ctx context.Context, path string) (string, error)
	GetInode(ctx context.Context, inodeID string) (*Inode, error)
	GetAttributes(ctx context.Context, path string) (*Attributes, error)

	Mkdirs(ctx context.Context, path string) error
	// Create makes a regular file. An existing file is truncated unless
	// exclusive is set, in which case ErrAlreadyExists is returned.
	Create(ctx context.Context, path string, exclusive bool, replication int16) (*Inode, []string, error)
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
	ReadDirPlus(ctx context.Context, path string) ([]DirEntryPlus, error)
	Remove(ctx context.Context, path string) ([]string, error)
	Rmdir(ctx context.Context, path string) error
	Rename(ctx context.Context, src, dst string, overwrite bool) ([]string, error)

	// PrepareWrite allocates the chunks covering [offset, offset+length),
	// bumping the version of chunks that already exist.
	PrepareWrite(ctx context.Context, inodeID string, offset, length int64) ([]ChunkLocation, error)
	// CommitWrite extends the file size to end if it is larger.
	CommitWrite(ctx context.Context, inodeID string, end int64) error

	SetReplication(ctx context.Context, path string, replication int16) (int16, error)
	GetFsInfo(ctx context.Context) (*FileSystemInfo, error)
}
