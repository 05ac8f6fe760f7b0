package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var namespaceRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// FileStore keeps one JSON file per namespace under dir. Every access
// holds an exclusive flock on the namespace's .lock file for the whole
// read-purge-modify-write cycle and replaces the data file by rename, so
// concurrent gateway processes never see a partial state.
type FileStore struct {
	dir   string
	ttl   time.Duration
	clock Clock
}

// storeFile is the on-disk layout of <namespace>.json.
type storeFile struct {
	Version int                  `json:"version"`
	Strikes map[string]time.Time `json:"strikes"`
}

func NewFileStore(dir string, ttl time.Duration, clock Clock) *FileStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &FileStore{dir: dir, ttl: ttl, clock: clock}
}

// Dir returns the directory holding the namespace files.
func (s *FileStore) Dir() string { return s.dir }

// Check records a strike or consumes an existing one. On any I/O failure
// it returns Fresh together with an error wrapping ErrStoreUnavailable.
func (s *FileStore) Check(namespace, fingerprint string) (Result, error) {
	result := Fresh
	err := s.update(namespace, func(st strikes, now time.Time) bool {
		st.purge(now, s.ttl)
		result = st.consume(fingerprint, now)
		return true
	})
	if err != nil {
		return Fresh, err
	}
	return result, nil
}

// List returns the live strikes in every namespace, purging expired ones.
func (s *FileStore) List() ([]Record, error) {
	namespaces, err := s.namespaces()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, ns := range namespaces {
		err := s.update(ns, func(st strikes, now time.Time) bool {
			changed := st.purge(now, s.ttl)
			out = append(out, st.records(ns, s.ttl)...)
			return changed
		})
		if err != nil {
			return nil, err
		}
	}
	sortRecords(out)
	return out, nil
}

// Clear removes every strike in every namespace.
func (s *FileStore) Clear() error {
	namespaces, err := s.namespaces()
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		err := s.update(ns, func(st strikes, _ time.Time) bool {
			for fp := range st {
				delete(st, fp)
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) namespaces() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var out []string
	for _, m := range matches {
		ns := strings.TrimSuffix(filepath.Base(m), ".json")
		if namespaceRe.MatchString(ns) {
			out = append(out, ns)
		}
	}
	return out, nil
}

// update runs fn on the namespace's strikes under an exclusive lock and
// writes the result back when fn reports a change.
func (s *FileStore) update(namespace string, fn func(st strikes, now time.Time) bool) error {
	if !namespaceRe.MatchString(namespace) {
		return fmt.Errorf("%w: invalid namespace %q", ErrStoreUnavailable, namespace)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	unlock, err := s.lock(namespace)
	if err != nil {
		return err
	}
	defer unlock()

	dataPath := filepath.Join(s.dir, namespace+".json")
	st, readErr := readStrikes(dataPath)

	if !fn(st, s.clock.Now()) && readErr == nil {
		return nil
	}
	if err := writeStrikes(dataPath, st); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// A corrupt file has been replaced, but the caller still learns that
	// the previous state was lost.
	if readErr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, readErr)
	}
	return nil
}

func (s *FileStore) lock(namespace string) (func(), error) {
	lockPath := filepath.Join(s.dir, namespace+".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock: %v", ErrStoreUnavailable, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: flock: %v", ErrStoreUnavailable, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

// readStrikes loads a namespace file. A missing file is an empty
// namespace; a corrupt one yields an empty namespace and an error.
func readStrikes(path string) (strikes, error) {
	st := make(strikes)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	if len(data) == 0 {
		return st, nil
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return st, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	for fp, at := range f.Strikes {
		st[fp] = at
	}
	return st, nil
}

// writeStrikes replaces path atomically via a temp file in the same dir.
func writeStrikes(path string, st strikes) error {
	data, err := json.MarshalIndent(storeFile{Version: 1, Strikes: st}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
