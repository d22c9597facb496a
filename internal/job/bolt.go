package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// Compile-time check that BoltRepository implements Repository.
var _ Repository = (*BoltRepository)(nil)

// BoltRepository stores records as JSON in a bbolt database. Every
// operation is a single transaction and the display index comes from the
// bucket sequence, so concurrent runs never reuse an index.
type BoltRepository struct {
	db *bbolt.DB
}

// OpenBoltRepository opens or creates the database file at path.
func OpenBoltRepository(path string) (*BoltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open record database: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records bucket: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

// Close releases the database file.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

// Save persists a record, assigning its index on first save. The index is
// written back to rec only once the transaction has committed.
func (r *BoltRepository) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := rec.Clone()
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if snap.Index == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("next record index: %w", err)
			}
			snap.Index = int(seq)
		}

		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		return b.Put([]byte(snap.ID), data)
	})
	if err != nil {
		return err
	}
	rec.setIndex(snap.Index)
	return nil
}

// FindByID retrieves a record by its ID.
func (r *BoltRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get([]byte(id))
		if data == nil {
			return ErrRecordNotFound
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all records, newest index first.
func (r *BoltRepository) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make([]*Record, 0)
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			result = append(result, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByIndexDesc(result)
	return result, nil
}

// Delete removes a record.
func (r *BoltRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b.Get([]byte(id)) == nil {
			return ErrRecordNotFound
		}
		return b.Delete([]byte(id))
	})
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Chapters == nil {
		rec.Chapters = make([]ChapterResult, 0)
	}
	return &rec, nil
}
