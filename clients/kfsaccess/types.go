package kfsaccess

import (
	"time"

	ps "github.com/AnishMulay/kfsaccess/internal/server"
)

// FileInfo describes one namespace entry as reported by the metaserver.
type FileInfo struct {
	Name        string
	IsDir       bool
	Size        int64
	Replication int16
	ChunkCount  int
	ModTime     time.Time
	ChangeTime  time.Time
	CreateTime  time.Time
}

func fromWire(fi ps.FileInfo) FileInfo {
	return FileInfo{
		Name:        fi.Name,
		IsDir:       fi.IsDir,
		Size:        fi.Size,
		Replication: fi.Replication,
		ChunkCount:  fi.ChunkCount,
		ModTime:     fi.ModTime,
		ChangeTime:  fi.ChangeTime,
		CreateTime:  fi.CreateTime,
	}
}

// FsInfo is the metaserver's view of the filesystem as a whole.
type FsInfo struct {
	FsID            string
	ChunkSize       int64
	MaxFilenameSize int
	MaxFileSize     int64
	InodeCount      int64
	NodeID          string
}
