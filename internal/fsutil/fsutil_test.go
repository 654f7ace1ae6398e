package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileLimited_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "change.diff")
	if err := os.WriteFile(p, []byte("+x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, limit := range []int64{0, 7, 1 << 20} {
		data, err := ReadFileLimited(p, limit)
		if err != nil {
			t.Fatalf("ReadFileLimited(limit=%d) error = %v", limit, err)
		}
		if string(data) != "+x = 1\n" {
			t.Errorf("ReadFileLimited(limit=%d) = %q", limit, data)
		}
	}
}

func TestReadFileLimited_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.diff")
	if err := os.WriteFile(p, []byte("0123456789"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := ReadFileLimited(p, 9)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
}

func TestReadFileLimited_Errors(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{
		filepath.Join(dir, "missing.diff"),
		filepath.Join(dir, "nodir", "file.diff"),
		dir,
		string(filepath.Separator),
	} {
		if _, err := ReadFileLimited(p, 0); err == nil {
			t.Errorf("ReadFileLimited(%q) should fail", p)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	p := filepath.Join(t.TempDir(), "reports", "nested", "report.md")

	if err := WriteFileAtomic(p, []byte("first"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(p, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}

	entries, err := os.ReadDir(filepath.Dir(p))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}
}
