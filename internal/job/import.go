package job

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML document shared by [FileStore] and seed imports.
//
// Example:
//
//	applications:
//	  - company: "Acme Corp"
//	    role: "Backend Engineer"
//	    source: "LinkedIn"
//	    date_applied: "2026-03-02"
//	    status: Applied
type File struct {
	Applications []Application `yaml:"applications"`
}

// LoadFile reads and parses an applications YAML file from disk.
// The returned error wraps [fs.ErrNotExist] when the file is missing.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("job: open %q: %w", path, err)
	}
	defer f.Close()

	jf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("job: parse %q: %w", path, err)
	}
	return jf, nil
}

// LoadFromReader parses applications YAML from an [io.Reader].
// An empty document yields an empty [File].
func LoadFromReader(r io.Reader) (*File, error) {
	var jf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&jf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("job: decode yaml: %w", err)
	}
	return &jf, nil
}

// Import saves every application in f into store, in order. It returns the
// number saved; the first store error aborts the import.
func Import(ctx context.Context, store Store, f *File) (int, error) {
	if f == nil {
		return 0, fmt.Errorf("job: import file must not be nil")
	}
	count := 0
	for i, a := range f.Applications {
		if _, _, err := store.Save(ctx, a); err != nil {
			return count, fmt.Errorf("job: import at index %d (company %q): %w", i, a.Company, err)
		}
		count++
	}
	return count, nil
}

// ImportFile loads path and imports it into store.
func ImportFile(ctx context.Context, store Store, path string) (int, error) {
	f, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	return Import(ctx, store, f)
}
