package job_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/jobvoice/internal/job"
)

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "jobs.yaml")

	s, err := job.OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	a, _, err := s.Save(ctx, job.Application{Company: "Acme", Role: "Engineer", DateApplied: "2026-03-02"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, _, _ := s.Save(ctx, job.Application{Company: "Initech", Role: "Analyst"})
	if _, err := s.Update(ctx, a.ID, job.Patch{Status: ptr(job.StatusInterviewing)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	reopened, err := job.OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, _ := reopened.List(ctx)
	if len(all) != 1 {
		t.Fatalf("List after reopen = %+v", all)
	}
	got := all[0]
	if got.ID != a.ID || got.Status != job.StatusInterviewing || got.DateApplied != "2026-03-02" {
		t.Errorf("reopened = %+v", got)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, a.CreatedAt)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("dir entries = %d, want only jobs.yaml", len(entries))
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s, err := job.OpenFileStore(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	all, _ := s.List(context.Background())
	if len(all) != 0 {
		t.Errorf("List = %+v", all)
	}
}

func TestFileStore_RejectsBadDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "applications:\n  - id: a\n    company: A\n    role: B\n    salary: 1\n"},
		{"missing id", "applications:\n  - company: A\n    role: B\n"},
		{"invalid status", "applications:\n  - id: a\n    company: A\n    role: B\n    status: Ghosted\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "jobs.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := job.OpenFileStore(path); err == nil {
				t.Fatal("OpenFileStore: expected error")
			}
		})
	}
}

func TestFileStore_WriteFailureRollsBack(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	s, err := job.OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Save(ctx, job.Application{Company: "Acme", Role: "Engineer"}); err != nil {
		t.Fatal(err)
	}

	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	if _, _, err := s.Save(ctx, job.Application{Company: "Initech", Role: "Analyst"}); err == nil {
		t.Fatal("Save: expected write error")
	}
	all, _ := s.List(ctx)
	if len(all) != 1 {
		t.Errorf("List after failed write = %d entries, want 1", len(all))
	}
}

const seedYAML = `
applications:
  - company: "Acme Corp"
    role: "Backend Engineer"
    source: "LinkedIn"
    date_applied: "2026-03-02"
    status: applied
  - id: "fixed-id"
    company: "Globex"
    role: "Platform Engineer"
    status: Wishlist
`

func TestImport(t *testing.T) {
	t.Parallel()

	f, err := job.LoadFromReader(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	s := job.NewMemStore()
	n, err := job.Import(context.Background(), s, f)
	if err != nil || n != 2 {
		t.Fatalf("Import = %d, %v", n, err)
	}
	all, _ := s.List(context.Background())
	if all[0].Status != job.StatusApplied || all[1].ID != "fixed-id" {
		t.Errorf("imported = %+v", all)
	}
}

func TestImport_AbortsOnInvalid(t *testing.T) {
	t.Parallel()

	f := &job.File{Applications: []job.Application{
		{Company: "A", Role: "B"},
		{Company: "", Role: "B"},
		{Company: "C", Role: "D"},
	}}
	n, err := job.Import(context.Background(), job.NewMemStore(), f)
	if n != 1 || !errors.Is(err, job.ErrInvalid) {
		t.Fatalf("Import = %d, %v; want 1, ErrInvalid", n, err)
	}
}

func TestImportFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := job.ImportFile(context.Background(), job.NewMemStore(), filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ImportFile: %v", err)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	f, err := job.LoadFromReader(strings.NewReader(""))
	if err != nil || len(f.Applications) != 0 {
		t.Fatalf("LoadFromReader(empty) = %+v, %v", f, err)
	}
}
