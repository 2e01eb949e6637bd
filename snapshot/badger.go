package snapshot

import (
	"os"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"
)

type badgerSink struct {
	db *badger.DB
}

// NewBadgerSink stores chunks in a badger database under dataDir.
func NewBadgerSink(dataDir string, logger *log.Logger) (Sink, error) {
	os.MkdirAll(dataDir, 0755)

	opts := badger.DefaultOptions(dataDir)
	opts = opts.WithBypassLockGuard(true)
	opts = opts.WithLogger(logger)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return badgerSink{
		db: db,
	}, nil
}

func (bs badgerSink) WriteChunk(seq uint64, chunk []byte) error {
	return bs.db.Update(
		func(tx *badger.Txn) error {
			return tx.Set(seqKey(seq), chunk)
		})
}

func (bs badgerSink) ReadChunks(fn func(chunk []byte) error) error {
	return bs.db.View(
		func(tx *badger.Txn) error {
			it := tx.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				err := it.Item().Value(
					func(val []byte) error {
						return fn(val)
					})
				if err != nil {
					return err
				}
			}
			return nil
		})
}

func (bs badgerSink) Close() error {
	return bs.db.Close()
}
