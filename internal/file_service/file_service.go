package file_service

import (
	"context"

	pms "github.com/AnishMulay/kfsaccess/internal/metadata_service"
)

// FileService is the path-oriented surface the server exposes. It resolves
// paths through the metadata service and moves bytes through the chunk
// service.
type FileService interface {
	Start() error
	Stop() error

	Stat(ctx context.Context, path string) (*pms.Attributes, error)
	Mkdirs(ctx context.Context, path string) error
	Create(ctx context.Context, path string, exclusive bool, replication int16) (*pms.Attributes, error)
	ReadDir(ctx context.Context, path string) ([]pms.DirEntry, error)
	ReadDirPlus(ctx context.Context, path string) ([]pms.DirEntryPlus, error)
	Remove(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Rename(ctx context.Context, src, dst string, overwrite bool) error

	Read(ctx context.Context, path string, offset, length int64) ([]byte, error)
	Write(ctx context.Context, path string, offset int64, data []byte) (int64, error)
	// GetDataLocation returns the replica addresses of every chunk that
	// overlaps [offset, offset+length), clipped to the file size.
	GetDataLocation(ctx context.Context, path string, offset, length int64) ([][]string, error)

	SetReplication(ctx context.Context, path string, replication int16) (int16, error)
	GetFsInfo(ctx context.Context) (*pms.FileSystemInfo, error)
}
