package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"
)

const (
	formatVersion = 1
	lockTimeout   = 5 * time.Second
	lockRetry     = 10 * time.Millisecond
	fileMode      = 0o644
	dirMode       = 0o755
)

// catalogFile represents the on-disk catalog format.
type catalogFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// FileStore is a JSON file guarded by flock, shared by every periscope
// process on the host.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewStore creates a new JSON-backed catalog store.
func NewStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the catalog file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Add(ctx context.Context, entry Entry) error {
	return s.withExclusiveLock(ctx, func(cf *catalogFile) error {
		for _, e := range cf.Entries {
			if e.ID == entry.ID {
				return fmt.Errorf("%w: id %s", ErrAlreadyExists, entry.ID)
			}
			if entry.Port != 0 && e.Port == entry.Port {
				return fmt.Errorf("%w: port %d held by %s", ErrAlreadyExists, entry.Port, e.ID)
			}
		}
		cf.Entries = append(cf.Entries, entry)
		return nil
	})
}

func (s *FileStore) Get(ctx context.Context, id string) (*Entry, error) {
	var result *Entry

	err := s.withSharedLock(ctx, func(cf *catalogFile) error {
		if i := cf.index(id); i >= 0 {
			entry := cf.Entries[i]
			result = &entry
			return nil
		}
		return ErrNotFound
	})

	return result, err
}

func (s *FileStore) Update(ctx context.Context, entry Entry) error {
	return s.withExclusiveLock(ctx, func(cf *catalogFile) error {
		i := cf.index(entry.ID)
		if i < 0 {
			return ErrNotFound
		}
		cf.Entries[i] = entry
		return nil
	})
}

func (s *FileStore) Remove(ctx context.Context, id string) error {
	return s.withExclusiveLock(ctx, func(cf *catalogFile) error {
		i := cf.index(id)
		if i < 0 {
			return ErrNotFound
		}
		cf.Entries = append(cf.Entries[:i], cf.Entries[i+1:]...)
		return nil
	})
}

func (s *FileStore) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var result []Entry

	err := s.withSharedLock(ctx, func(cf *catalogFile) error {
		for _, e := range cf.Entries {
			if filter.OwnerPID != 0 && e.OwnerPID != filter.OwnerPID {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			result = append(result, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *FileStore) Prune(ctx context.Context, keep func(Entry) bool) ([]Entry, error) {
	var removed []Entry

	err := s.withExclusiveLock(ctx, func(cf *catalogFile) error {
		kept := cf.Entries[:0]
		for _, e := range cf.Entries {
			if keep(e) {
				kept = append(kept, e)
				continue
			}
			removed = append(removed, e)
		}
		cf.Entries = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (cf *catalogFile) index(id string) int {
	for i := range cf.Entries {
		if cf.Entries[i].ID == id {
			return i
		}
	}
	return -1
}

// withSharedLock executes fn with a shared (read) lock.
func (s *FileStore) withSharedLock(ctx context.Context, fn func(*catalogFile) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cf, file, err := s.openAndLock(ctx, false)
	if err != nil {
		return err
	}
	defer s.unlockAndClose(file)

	return fn(cf)
}

// withExclusiveLock executes fn with an exclusive (write) lock.
// Changes made by fn are persisted to disk.
func (s *FileStore) withExclusiveLock(ctx context.Context, fn func(*catalogFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cf, file, err := s.openAndLock(ctx, true)
	if err != nil {
		return err
	}
	defer s.unlockAndClose(file)

	if err := fn(cf); err != nil {
		return err
	}

	return s.save(cf)
}

// openAndLock acquires the catalog lock and loads the catalog. The lock lives
// on a sidecar file because save replaces the catalog file by rename.
func (s *FileStore) openAndLock(ctx context.Context, exclusive bool) (*catalogFile, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return nil, nil, fmt.Errorf("create catalog directory: %w", err)
	}

	file, err := os.OpenFile(s.path+".lock", os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog lock: %w", err)
	}

	lockType := syscall.LOCK_SH
	if exclusive {
		lockType = syscall.LOCK_EX
	}

	if err := acquireLock(ctx, file, lockType); err != nil {
		_ = file.Close() //nolint:errcheck // best-effort cleanup
		return nil, nil, err
	}

	cf, err := load(s.path)
	if err != nil {
		s.unlockAndClose(file)
		return nil, nil, err
	}

	return cf, file, nil
}

// acquireLock polls for a non-blocking flock until ctx is done or the lock
// timeout elapses.
func acquireLock(ctx context.Context, file *os.File, lockType int) error {
	timeout := time.NewTimer(lockTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(lockRetry)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := syscall.Flock(int(file.Fd()), lockType|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("acquire file lock: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return ErrLockTimeout
		case <-ticker.C:
		}
	}
}

// unlockAndClose releases the lock and closes the file.
func (s *FileStore) unlockAndClose(file *os.File) {
	_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN) //nolint:errcheck // released on close anyway
	_ = file.Close()                                   //nolint:errcheck // best-effort cleanup
}

// load reads and parses the catalog file. A missing or empty file is an
// empty catalog.
func load(path string) (*catalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	if len(data) == 0 {
		return &catalogFile{Version: formatVersion, Entries: []Entry{}}, nil
	}

	var cf catalogFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}
	if cf.Version > formatVersion {
		return nil, fmt.Errorf("catalog format version %d is newer than supported %d", cf.Version, formatVersion)
	}

	return &cf, nil
}

// save writes the catalog to disk atomically.
func (s *FileStore) save(cf *catalogFile) error {
	cf.Version = formatVersion

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "catalog-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		}
	}()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cf); err != nil {
		_ = tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename catalog file: %w", err)
	}

	tmpPath = ""
	return nil
}
