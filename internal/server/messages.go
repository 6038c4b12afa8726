package server

import "time"

// Message Type Constants
const (
	MsgPing           = "ping"
	MsgStat           = "stat"
	MsgMkdirs         = "mkdirs"
	MsgCreate         = "create"
	MsgReadDir        = "readdir"
	MsgReadDirPlus    = "readdirplus"
	MsgRemove         = "remove"
	MsgRmdir          = "rmdir"
	MsgRename         = "rename"
	MsgRead           = "read"
	MsgWrite          = "write"
	MsgDataLocation   = "data_location"
	MsgSetReplication = "set_replication"
	MsgFsInfo         = "fsinfo"
)

// HeaderWritten carries the byte count of a write that failed part way.
const HeaderWritten = "written"

// --- Payload Structs ---

type PathRequest struct {
	Path string `json:"path"`
}

type CreateRequest struct {
	Path        string `json:"path"`
	Exclusive   bool   `json:"exclusive"`
	Replication int16  `json:"replication"`
}

type RenameRequest struct {
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	Overwrite bool   `json:"overwrite"`
}

type ReadRequest struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

type WriteRequest struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Data   []byte `json:"data"`
}

type DataLocationRequest struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

type SetReplicationRequest struct {
	Path        string `json:"path"`
	Replication int16  `json:"replication"`
}

// --- Response Bodies ---

// FileInfo is the wire form of a namespace entry's attributes.
type FileInfo struct {
	Name        string    `json:"name"`
	IsDir       bool      `json:"isDir"`
	Size        int64     `json:"size"`
	Replication int16     `json:"replication"`
	ChunkCount  int       `json:"chunkCount"`
	ModTime     time.Time `json:"modTime"`
	ChangeTime  time.Time `json:"changeTime"`
	CreateTime  time.Time `json:"createTime"`
}

type ReadDirResponse struct {
	Names []string `json:"names"`
}

type ReadDirPlusResponse struct {
	Entries []FileInfo `json:"entries"`
}

type WriteResponse struct {
	Written int64 `json:"written"`
}

type DataLocationResponse struct {
	Chunks [][]string `json:"chunks"`
}

type ReplicationResponse struct {
	Replication int16 `json:"replication"`
}

type FsInfoResponse struct {
	FsID            string `json:"fsId"`
	ChunkSize       int64  `json:"chunkSize"`
	MaxFilenameSize int    `json:"maxFilenameSize"`
	MaxFileSize     int64  `json:"maxFileSize"`
	InodeCount      int64  `json:"inodeCount"`
	NodeID          string `json:"nodeId"`
}

type PingResponse struct {
	NodeID string `json:"nodeId"`
}
