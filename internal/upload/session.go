package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Status is the lifecycle state of one file's upload.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Identity is a stable key for a local file across process restarts.
type Identity struct {
	Name    string
	Size    int64
	ModTime int64 // Unix milliseconds
}

// Key is the wire identifier of a single-request upload.
func (id Identity) Key() string {
	return fmt.Sprintf("%s:%d:%d", id.Name, id.Size, id.ModTime)
}

// LedgerKey identifies a chunked upload of id split into chunkSize pieces.
// Chunk indices only mean something for one chunk size, so a resume with a
// different size starts a new entry instead of reusing the old indices.
func (id Identity) LedgerKey(chunkSize int64) string {
	return fmt.Sprintf("%s:%d", id.Key(), chunkSize)
}

// ParseLedgerKey splits a key built by LedgerKey. Names may contain colons;
// the numeric fields are taken from the right.
func ParseLedgerKey(key string) (Identity, int64, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return Identity{}, 0, fmt.Errorf("malformed ledger key %q", key)
	}
	n := len(parts)
	nums := make([]int64, 3)
	for i, raw := range parts[n-3:] {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Identity{}, 0, fmt.Errorf("malformed ledger key %q: %w", key, err)
		}
		nums[i] = v
	}
	id := Identity{Name: strings.Join(parts[:n-3], ":"), Size: nums[0], ModTime: nums[1]}
	if id.Name == "" || nums[2] <= 0 {
		return Identity{}, 0, fmt.Errorf("malformed ledger key %q", key)
	}
	return id, nums[2], nil
}

// IdentityOf stats path.
func IdentityOf(path string) (Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, err
	}
	if info.IsDir() {
		return Identity{}, fmt.Errorf("%s is a directory", path)
	}
	return Identity{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime().UnixMilli(),
	}, nil
}

// Session tracks the chunked upload of one file.
type Session struct {
	Identity    Identity
	ChunkSize   int64
	TotalChunks int
	Uploaded    map[int]struct{}
	Status      Status
}

// TotalChunks returns ceil(size/chunkSize).
func TotalChunks(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

func newSession(id Identity, chunkSize int64) *Session {
	return &Session{
		Identity:    id,
		ChunkSize:   chunkSize,
		TotalChunks: TotalChunks(id.Size, chunkSize),
		Uploaded:    make(map[int]struct{}),
		Status:      StatusPending,
	}
}

// MarkUploaded records index. Indices outside [0, TotalChunks) are rejected.
func (s *Session) MarkUploaded(index int) error {
	if index < 0 || index >= s.TotalChunks {
		return fmt.Errorf("chunk index %d out of range [0,%d)", index, s.TotalChunks)
	}
	s.Uploaded[index] = struct{}{}
	return nil
}

// Pending returns the indices still to send, ascending.
func (s *Session) Pending() []int {
	out := make([]int, 0, s.TotalChunks-len(s.Uploaded))
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.Uploaded[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// UploadedIndices returns the acknowledged indices, ascending.
func (s *Session) UploadedIndices() []int {
	out := make([]int, 0, len(s.Uploaded))
	for i := range s.Uploaded {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// chunkLen is the byte length of chunk index.
func (s *Session) chunkLen(index int) int64 {
	start := int64(index) * s.ChunkSize
	return min(s.ChunkSize, s.Identity.Size-start)
}

// Percent is the share of bytes acknowledged, 0–100.
func (s *Session) Percent() float64 {
	if s.Identity.Size <= 0 {
		return 0
	}
	var done int64
	for i := range s.Uploaded {
		done += s.chunkLen(i)
	}
	return float64(done) * 100 / float64(s.Identity.Size)
}
