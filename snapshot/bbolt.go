package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	tansuBucket = []byte{'t', 'a', 'n', 's', 'u'}
)

type bboltSink struct {
	db *bbolt.DB
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

// NewBBoltSink stores chunks in a bbolt database file at path, keyed by
// sequence number.
func NewBBoltSink(path string) (Sink, error) {
	os.MkdirAll(filepath.Dir(path), 0755)

	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, err
	}
	// Dangerous, but about 100x faster.
	db.NoFreelistSync = true
	db.NoSync = true

	err = db.Update(
		func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(tansuBucket)
			return err
		})
	if err != nil {
		db.Close()
		return nil, err
	}

	return bboltSink{
		db: db,
	}, nil
}

func (bs bboltSink) WriteChunk(seq uint64, chunk []byte) error {
	return bs.db.Update(
		func(tx *bbolt.Tx) error {
			bkt := tx.Bucket(tansuBucket)
			if bkt == nil {
				return errors.New("bbolt: missing tansu bucket")
			}
			return bkt.Put(seqKey(seq), chunk)
		})
}

func (bs bboltSink) ReadChunks(fn func(chunk []byte) error) error {
	return bs.db.View(
		func(tx *bbolt.Tx) error {
			bkt := tx.Bucket(tansuBucket)
			if bkt == nil {
				return errors.New("bbolt: missing tansu bucket")
			}

			cr := bkt.Cursor()
			for key, val := cr.First(); key != nil; key, val = cr.Next() {
				if len(key) != 8 {
					return fmt.Errorf("bbolt: bad chunk key: %v", key)
				}
				err := fn(val)
				if err != nil {
					return err
				}
			}
			return nil
		})
}

func (bs bboltSink) Close() error {
	return bs.db.Close()
}
