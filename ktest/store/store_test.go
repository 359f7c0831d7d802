package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knsymex/knsymex/ktest"
)

func writeRecord(t *testing.T, dir, name string, nodeID uint32, errStr string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	rec := &ktest.Record{NodeID: nodeID, Err: errStr}
	if err := ktest.Encode(f, rec); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestIndexDirAndFindByNode(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "a.ktest", 1, "")
	writeRecord(t, dir, "b.ktest", 2, "")
	writeRecord(t, dir, "c.ktest", 1, "infeasible: dest 1")

	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	n, err := s.IndexDir(dir)
	if err != nil {
		t.Fatalf("index dir: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 records indexed, got %d", n)
	}

	matches, err := s.FindByNode(1)
	if err != nil {
		t.Fatalf("find by node: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 records for node 1, got %d", len(matches))
	}

	infeasible, err := s.FindInfeasible()
	if err != nil {
		t.Fatalf("find infeasible: %v", err)
	}
	if len(infeasible) != 1 {
		t.Fatalf("expected 1 infeasible record, got %d", len(infeasible))
	}
}
