// Package store provides a queryable local index over a directory of
// decoded test records, so a caller can ask for "every record for node 3"
// or "every record with an error" without re-parsing every file on each
// query. The CLI does not expose it. Grounded on the teacher's own mountpath-walk usage
// (godirwalk) for bulk directory ingestion.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/knsymex/knsymex/ktest"
)

// indexEntry is the JSON document stored per record, keyed by file path.
type indexEntry struct {
	Path      string `json:"path"`
	NodeID    uint32 `json:"node_id"`
	DScenario uint32 `json:"dscenario"`
	Err       string `json:"err"`
}

// Store is a buntdb-backed index over *.ktest files already on disk; it
// never mutates the source files it indexes.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if absent) the index database at path; pass ":memory:"
// for an ephemeral in-process store, matching buntdb's own convention.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "store: open buntdb")
	}
	if err := db.CreateIndex("node", "*", buntdb.IndexJSON("node_id")); err != nil && err != buntdb.ErrIndexExists {
		return nil, errors.Wrap(err, "store: create node index")
	}
	if err := db.CreateIndex("err", "*", buntdb.IndexJSON("err")); err != nil && err != buntdb.ErrIndexExists {
		return nil, errors.Wrap(err, "store: create err index")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// IndexFile decodes path and adds it to the index, keyed by its own path so
// re-ingestion is idempotent.
func (s *Store) IndexFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "store: open %q", path)
	}
	defer f.Close()
	rec, err := ktest.Decode(f)
	if err != nil {
		return errors.Wrapf(err, "store: decode %q", path)
	}
	entry := indexEntry{Path: path, NodeID: rec.NodeID, DScenario: rec.DScenario, Err: rec.Err}
	blob, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "store: marshal index entry")
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(path, string(blob), nil)
		return err
	})
}

// IndexDir walks root recursively, indexing every file whose name ends in
// ".ktest"; directory traversal uses godirwalk the way the teacher's jogger
// code walks mountpaths.
func (s *Store) IndexDir(root string) (int, error) {
	count := 0
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(path, ".ktest") {
				return nil
			}
			if err := s.IndexFile(path); err != nil {
				return err
			}
			count++
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return count, errors.Wrapf(err, "store: walk %q", root)
	}
	return count, nil
}

// FindByNode returns the file paths of every indexed record whose
// destination node matches nodeID.
func (s *Store) FindByNode(nodeID uint32) ([]string, error) {
	return s.query(fmt.Sprintf(`{"node_id":%d}`, nodeID), "node")
}

// FindInfeasible returns every indexed record whose Err field is non-empty
// (spec.md §7's Err::Infeasible and friends).
func (s *Store) FindInfeasible() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("err", func(key, value string) bool {
			var e indexEntry
			if json.Unmarshal([]byte(value), &e) == nil && e.Err != "" {
				out = append(out, e.Path)
			}
			return true
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: scan err index")
	}
	return out, nil
}

func (s *Store) query(pivot, index string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendEqual(index, pivot, func(key, value string) bool {
			var e indexEntry
			if json.Unmarshal([]byte(value), &e) == nil {
				out = append(out, e.Path)
			}
			return true
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: query")
	}
	return out, nil
}
