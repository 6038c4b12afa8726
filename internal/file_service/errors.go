package file_service

import "errors"

var (
	ErrChunkActionFailed    = errors.New("chunk action failed")
	ErrMetadataActionFailed = errors.New("metadata action failed")
)
