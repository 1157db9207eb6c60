package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"aivision/internal/core/domain"
	"aivision/pkg/utils"
)

var jpegExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
}

// DirectorySource replays the JPEG files of a directory in name order.
type DirectorySource struct {
	mu    sync.Mutex
	files []string
	next  int
	loop  bool
}

func NewDirectorySource(dir string, loop bool) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !jpegExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no JPEG files in %s", dir)
	}
	sort.Strings(files)

	return &DirectorySource{files: files, loop: loop}, nil
}

func (s *DirectorySource) Next(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}

	s.mu.Lock()
	if s.next >= len(s.files) {
		if !s.loop || len(s.files) == 0 {
			s.mu.Unlock()
			return domain.Frame{}, domain.ErrSourceExhausted
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Frame{}, fmt.Errorf("read frame %s: %w", filepath.Base(path), err)
	}
	return domain.Frame{Data: data, CapturedAt: utils.Now()}, nil
}

func (s *DirectorySource) Len() int {
	return len(s.files)
}

func (s *DirectorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
	s.next = 0
	return nil
}
