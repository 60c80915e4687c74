package localstorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"auditfetch/internal/core/domain"
)

// compareChunk is the read size used when comparing a stored variant.
const compareChunk = 32 * 1024

// LocalStorage implements ports.BlobStore for a local directory.
//
// Files are named <id>.json, then <id>.1.json, <id>.2.json ... for each
// distinct body seen under the same logical id.
type LocalStorage struct {
	BaseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{
		BaseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Init creates the destination directory.
func (s *LocalStorage) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.BaseDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", s.BaseDir, err)
	}
	return nil
}

// Location returns the destination directory.
func (s *LocalStorage) Location() string {
	return s.BaseDir
}

// VariantPath returns the path of the n-th variant of logicalID.
// Variant 0 is the unsuffixed file.
func (s *LocalStorage) VariantPath(logicalID string, n int) string {
	return filepath.Join(s.BaseDir, domain.VariantName(logicalID, n))
}

// Save writes data under logicalID unless an existing variant already holds
// identical bytes. Every stored variant is compared first, including those
// past a gap in the numbering; the body then goes to the lowest free slot.
// Creation is exclusive, so two writers never share a path.
func (s *LocalStorage) Save(ctx context.Context, logicalID string, data []byte) (domain.StoreResult, error) {
	if err := domain.ValidateLogicalID(logicalID); err != nil {
		return domain.StoreResult{}, err
	}

	lock := s.lockFor(logicalID)
	lock.Lock()
	defer lock.Unlock()

	highest, err := s.highestVariant(logicalID)
	if err != nil {
		return domain.StoreResult{}, err
	}

	taken := make(map[int]bool)
	for n := 0; n <= highest; n++ {
		if err := ctx.Err(); err != nil {
			return domain.StoreResult{}, err
		}
		path := s.VariantPath(logicalID, n)
		exists, equal, err := compareFile(path, data)
		if err != nil {
			return domain.StoreResult{}, err
		}
		if equal {
			return domain.StoreResult{Path: path, Duplicate: true}, nil
		}
		taken[n] = exists
	}

	for n := 0; ; n++ {
		if taken[n] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return domain.StoreResult{}, err
		}

		path := s.VariantPath(logicalID, n)
		created, err := createExclusive(path, data)
		if err != nil {
			return domain.StoreResult{}, err
		}
		if created {
			return domain.StoreResult{Path: path}, nil
		}

		// Another process filled this slot; it may hold the same bytes.
		_, equal, err := compareFile(path, data)
		if err != nil {
			return domain.StoreResult{}, err
		}
		if equal {
			return domain.StoreResult{Path: path, Duplicate: true}, nil
		}
	}
}

// highestVariant returns the largest variant number stored for logicalID,
// or -1 when there is none.
func (s *LocalStorage) highestVariant(logicalID string) (int, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return -1, fmt.Errorf("failed to read destination directory %s: %w", s.BaseDir, err)
	}
	highest := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := domain.ParseVariantName(logicalID, e.Name()); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (s *LocalStorage) lockFor(logicalID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[logicalID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[logicalID] = l
	}
	return l
}

// compareFile reports whether path exists and whether its bytes equal data.
func compareFile(path string, data []byte) (exists, equal bool, err error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() != int64(len(data)) {
		return true, false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return true, false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, compareChunk)
	rest := data
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if n > len(rest) || !bytes.Equal(buf[:n], rest[:n]) {
				return true, false, nil
			}
			rest = rest[n:]
		}
		if rerr == io.EOF {
			return true, len(rest) == 0, nil
		}
		if rerr != nil {
			return true, false, fmt.Errorf("failed to read %s: %w", path, rerr)
		}
	}
}

// createExclusive writes data to a new file at path. It returns false
// without error when the file already exists.
func createExclusive(path string, data []byte) (bool, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create blob file %s: %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return false, fmt.Errorf("failed to write blob file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("failed to close blob file: %w", err)
	}
	return true, nil
}
