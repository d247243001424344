package job

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Compile-time assertion that FileStore satisfies the Store interface.
var _ Store = (*FileStore)(nil)

// FileStore is a [MemStore] persisted to a YAML document. Every successful
// mutation rewrites the file atomically (temp file plus rename); a failed
// write rolls the change back and is returned to the caller.
type FileStore struct {
	*MemStore
	path string
}

// OpenFileStore loads path into memory. A missing file yields an empty
// store; the file is created on the first write.
func OpenFileStore(path string) (*FileStore, error) {
	fst := &FileStore{MemStore: NewMemStore(), path: path}

	f, err := LoadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		apps := make([]Application, 0, len(f.Applications))
		for i, a := range f.Applications {
			a = Normalize(a)
			if a.ID == "" {
				return nil, fmt.Errorf("job: file store %q: application[%d] has no id", path, i)
			}
			if err := Validate(a); err != nil {
				return nil, fmt.Errorf("job: file store %q: application[%d]: %w", path, i, err)
			}
			apps = append(apps, a)
		}
		fst.replaceAll(apps)
	}

	fst.onChange = fst.persist
	return fst, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) persist(snapshot []Application) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(File{Applications: snapshot}); err != nil {
		return fmt.Errorf("job: encode %q: %w", s.path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("job: encode %q: %w", s.path, err)
	}
	return writeAtomic(s.path, buf.Bytes())
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("job: create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("job: write %q: %w", path, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("job: write %q: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("job: sync %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("job: write %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("job: replace %q: %w", path, err)
	}
	return nil
}
