package chunk_service

// ChunkService stores chunk bytes by id. Versions and replica locations
// live in the metadata service; a chunk store only holds the latest bytes.
type ChunkService interface {
	WriteChunk(chunkID string, data []byte) error
	// ReadChunk returns ErrChunkNotFound for a chunk that was never written.
	ReadChunk(chunkID string) ([]byte, error)
	DeleteChunk(chunkID string) error
	ListChunks() ([]string, error)
}
