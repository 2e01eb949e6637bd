package snapshot

import (
	"os"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

type pebbleSink struct {
	db *pebble.DB
}

// NewPebbleSink stores chunks in a pebble database under dataDir.
func NewPebbleSink(dataDir string, logger *log.Logger) (Sink, error) {
	os.MkdirAll(dataDir, 0755)

	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return pebbleSink{
		db: db,
	}, nil
}

func (ps pebbleSink) WriteChunk(seq uint64, chunk []byte) error {
	return ps.db.Set(seqKey(seq), chunk, pebble.Sync)
}

func (ps pebbleSink) ReadChunks(fn func(chunk []byte) error) error {
	it := ps.db.NewIter(nil)
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		err := fn(it.Value())
		if err != nil {
			return err
		}
	}
	return it.Error()
}

func (ps pebbleSink) Close() error {
	return ps.db.Close()
}
