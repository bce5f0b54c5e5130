package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"media-pipeline/internal/logging"
)

// StagedOutput is a temporary file that becomes dest on Commit.
type StagedOutput struct {
	dest      string
	tmp       string
	committed bool
}

// NewStagedOutput creates dest's parent directory if needed and reserves a
// uniquely named staging file beside it.
func NewStagedOutput(dest string) (*StagedOutput, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(filepath.Base(dest), ext)
	f, err := os.CreateTemp(dir, "."+base+".*.partial"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	return &StagedOutput{dest: dest, tmp: f.Name()}, nil
}

// Path is where the producer should write.
func (s *StagedOutput) Path() string { return s.tmp }

// Dest is the final path.
func (s *StagedOutput) Dest() string { return s.dest }

// Commit renames the staging file over the destination.
func (s *StagedOutput) Commit() error {
	if err := os.Rename(s.tmp, s.dest); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	s.committed = true
	return nil
}

// Discard removes the staging file unless it was committed.
func (s *StagedOutput) Discard() {
	if s.committed {
		return
	}
	if err := os.Remove(s.tmp); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove staging file %s: %v", s.tmp, err)
	}
}
