package upload

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"media-pipeline/internal/mediatypes"
)

// Endpoints, relative to the server base URL.
const (
	PathSingle   = "/api/upload"
	PathChunk    = "/api/upload/chunk"
	PathFinalize = "/api/upload/finalize"
	PathStatus   = "/api/upload/status"
)

// Multipart field names.
const (
	FieldFile        = "file"
	FieldChunk       = "chunk"
	FieldChunkIndex  = "chunk_index"
	FieldTotalChunks = "total_chunks"
	FieldFileID      = "file_id"
	FieldFileName    = "file_name"
	FieldChunkHash   = "chunk_hash"
	FieldMetadata    = "metadata"
)

// ChunkResponse acknowledges one chunk. Assembled is set when the server has
// already built the file, in which case Record is populated.
type ChunkResponse struct {
	ChunkIndex int                     `json:"chunkIndex"`
	Assembled  bool                    `json:"assembled"`
	Record     *mediatypes.MediaRecord `json:"record,omitempty"`
}

// FinalizeRequest asks the server to assemble a chunked upload.
type FinalizeRequest struct {
	FileID      string                    `json:"fileId"`
	TotalChunks int                       `json:"totalChunks"`
	FileName    string                    `json:"fileName"`
	Metadata    mediatypes.UploadMetadata `json:"metadata"`
}

// RecordResponse carries the stored record for single uploads and finalize.
type RecordResponse struct {
	Record *mediatypes.MediaRecord `json:"record"`
}

// StatusResponse lists the chunk indices the server holds for an upload.
type StatusResponse struct {
	FileID string `json:"fileId"`
	Chunks []int  `json:"chunks"`
}

// ErrorResponse is the JSON body of a rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChunkHash returns the hex BLAKE2b-256 digest sent as chunk_hash.
func ChunkHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
