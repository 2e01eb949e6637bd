// Package snapshot streams a table's tuples to durable sinks and loads
// them back. Saving drives the table's snapshot partition machinery:
// every block is marked pending, streamed exactly once, and marked not
// pending as it completes, so concurrent inserts and compaction never
// disturb the stream.
package snapshot

import (
	"bytes"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/tansudb/tansu/storage/tstore"
)

const DefaultChunkTuples = 1024

// Sink persists an ordered stream of chunks; each chunk is a serialized
// table fragment with its own column header.
type Sink interface {
	WriteChunk(seq uint64, chunk []byte) error
	ReadChunks(fn func(chunk []byte) error) error
	Close() error
}

// Save streams every tuple of tbl to snk in chunks of up to chunkTuples
// tuples; chunkTuples < 1 selects DefaultChunkTuples. At least one chunk
// is always written so a load can validate the column header.
func Save(tbl *tstore.Table, snk Sink, chunkTuples int) error {
	if chunkTuples < 1 {
		chunkTuples = DefaultChunkTuples
	}

	tbl.ActivateSnapshot()
	defer tbl.DeactivateSnapshot()

	it := tbl.SnapshotIterator()
	defer it.Close()

	var seq uint64
	var count int64
	refs := make([]tstore.Ref, 0, chunkTuples)
	flush := func() error {
		var buf bytes.Buffer
		err := tbl.SerializeTuplesTo(&buf, refs)
		if err != nil {
			return fmt.Errorf("snapshot: %s: serializing chunk %d: %s", tbl.Name(), seq, err)
		}
		err = snk.WriteChunk(seq, buf.Bytes())
		if err != nil {
			return fmt.Errorf("snapshot: %s: writing chunk %d: %s", tbl.Name(), seq, err)
		}
		seq++
		count += int64(len(refs))
		refs = refs[:0]
		return nil
	}

	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}
		refs = append(refs, rf)
		if len(refs) == chunkTuples {
			err = flush()
			if err != nil {
				return err
			}
		}
	}
	if len(refs) > 0 || seq == 0 {
		err := flush()
		if err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"table":  tbl.Name(),
		"tuples": count,
		"chunks": seq,
	}).Info("snapshot saved")
	return nil
}

// Load reads every chunk of snk into tbl; the chunks' column headers must
// match the table's schema.
func Load(tbl *tstore.Table, snk Sink) error {
	var chunks int
	err := snk.ReadChunks(
		func(chunk []byte) error {
			chunks++
			return tbl.LoadTuplesFrom(false, bytes.NewReader(chunk))
		})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"table":  tbl.Name(),
		"tuples": tbl.TupleCount(),
		"chunks": chunks,
	}).Info("snapshot loaded")
	return nil
}
