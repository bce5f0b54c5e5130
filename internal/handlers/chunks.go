package handlers

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"media-pipeline/internal/filesystem"
)

const partSuffix = ".part"

var errIncomplete = errors.New("upload is missing chunks")

// chunkStore keeps the chunks of partial uploads on disk, one directory per
// upload keyed by a digest of the client's file ID.
type chunkStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChunkStore(dir string) *chunkStore {
	return &chunkStore{dir: dir, locks: make(map[string]*sync.Mutex)}
}

// lock serialises work on one upload. Locks are kept for the life of the
// process.
func (s *chunkStore) lock(fileID string) func() {
	s.mu.Lock()
	l, ok := s.locks[fileID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[fileID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *chunkStore) uploadDir(fileID string) string {
	sum := blake2b.Sum256([]byte(fileID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16]))
}

func (s *chunkStore) partPath(fileID string, index int) string {
	return filepath.Join(s.uploadDir(fileID), fmt.Sprintf("%06d%s", index, partSuffix))
}

// put stores a chunk. Re-sending identical bytes is not an error; it returns
// stored false.
func (s *chunkStore) put(fileID string, index int, data []byte) (bool, error) {
	path := s.partPath(fileID, index)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	staged, err := filesystem.NewStagedOutput(path)
	if err != nil {
		return false, err
	}
	defer staged.Discard()

	if err := os.WriteFile(staged.Path(), data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if err := staged.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// indices lists the chunks held for an upload in ascending order.
func (s *chunkStore) indices(fileID string) ([]int, error) {
	entries, err := os.ReadDir(s.uploadDir(fileID))
	if errors.Is(err, os.ErrNotExist) {
		return []int{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, partSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, partSuffix))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// complete reports whether chunks 0..total-1 are all present.
func (s *chunkStore) complete(fileID string, total int) (bool, error) {
	have, err := s.indices(fileID)
	if err != nil {
		return false, err
	}
	if len(have) < total {
		return false, nil
	}
	for i := 0; i < total; i++ {
		if have[i] != i {
			return false, nil
		}
	}
	return true, nil
}

// assemble concatenates chunks 0..total-1 into dest and drops the chunk
// directory. dest appears only once every chunk has been copied.
func (s *chunkStore) assemble(fileID string, total int, dest string) (int64, error) {
	ok, err := s.complete(fileID, total)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errIncomplete
	}

	staged, err := filesystem.NewStagedOutput(dest)
	if err != nil {
		return 0, err
	}
	defer staged.Discard()

	out, err := os.OpenFile(staged.Path(), os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	var written int64
	for i := 0; i < total; i++ {
		n, err := appendPart(out, s.partPath(fileID, i))
		written += n
		if err != nil {
			_ = out.Close()
			return 0, fmt.Errorf("failed to append chunk %d: %w", i, err)
		}
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if err := staged.Commit(); err != nil {
		return 0, err
	}

	if err := s.discard(fileID); err != nil {
		log.Warn("assembled %s but failed to remove its chunks: %v", dest, err)
	}
	return written, nil
}

func appendPart(w io.Writer, path string) (int64, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

// discard removes every chunk of an upload.
func (s *chunkStore) discard(fileID string) error {
	return os.RemoveAll(s.uploadDir(fileID))
}

// verifyChunk checks data against the client's hex BLAKE2b-256 digest. An
// empty digest is accepted.
func verifyChunk(data []byte, want string) bool {
	if want == "" {
		return true
	}
	sum := blake2b.Sum256(data)
	return strings.EqualFold(hex.EncodeToString(sum[:]), want)
}
