// Package querycache persists compiled pipeline queries keyed by their
// source text, so a frequently-reopened view (spec.md §4.9) skips
// re-lexing and re-parsing on every load.
//
// Grounded on the teacher's db/bolt/bolt.go CreateBucket/PutJSON/GetJSON
// wrapper shape, narrowed to the one bucket this cache needs.
package querycache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "compiled_queries"

// Entry is the JSON-serializable shape persisted per source string.
// Lineage keys its source/output column pairs as "table.column" since
// bbolt values round-trip through JSON, which cannot key a map by a
// struct.
type Entry struct {
	SQL      string
	Args     []any
	From     string
	Lineage  map[string]string
	Selected []string
}

// DB wraps a bbolt database holding one bucket of cached Entry values.
type DB struct {
	*bolt.DB
}

// Open opens or creates the cache database and its bucket.
func Open(path string) (*DB, error) {
	boltDB, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("querycache: open: %w", err)
	}
	db := &DB{boltDB}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = boltDB.Close()
		return nil, fmt.Errorf("querycache: create bucket: %w", err)
	}
	return db, nil
}

// Get returns the cached entry for source, and whether it was found.
func (db *DB) Get(source string) (Entry, bool, error) {
	var entry Entry
	found := false
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		data := b.Get([]byte(source))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("querycache: get: %w", err)
	}
	return entry, found, nil
}

// Put stores (or overwrites) the compiled entry for source.
func (db *DB) Put(source string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("querycache: marshal: %w", err)
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(source), data)
	})
}

// Invalidate removes a cached entry, e.g. after a schema migration
// changes the column set a compiled query depended on.
func (db *DB) Invalidate(source string) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Delete([]byte(source))
	})
}
