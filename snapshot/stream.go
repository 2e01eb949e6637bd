package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

type streamSink struct {
	w *lz4.Writer
	r *lz4.Reader
}

// NewStreamSink writes chunks as an lz4 compressed, length prefixed
// stream; the caller owns out and closes it after the sink.
func NewStreamSink(out io.Writer) Sink {
	return &streamSink{
		w: lz4.NewWriter(out),
	}
}

// OpenStreamSink reads chunks from an lz4 compressed stream written by
// NewStreamSink.
func OpenStreamSink(in io.Reader) Sink {
	return &streamSink{
		r: lz4.NewReader(in),
	}
}

func (ss *streamSink) WriteChunk(seq uint64, chunk []byte) error {
	if ss.w == nil {
		return errors.New("snapshot: stream sink opened for reading")
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(chunk)))
	_, err := ss.w.Write(prefix[:])
	if err != nil {
		return err
	}
	_, err = ss.w.Write(chunk)
	return err
}

func (ss *streamSink) ReadChunks(fn func(chunk []byte) error) error {
	if ss.r == nil {
		return errors.New("snapshot: stream sink opened for writing")
	}

	for {
		var prefix [4]byte
		_, err := io.ReadFull(ss.r, prefix[:])
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("snapshot: reading chunk prefix: %s", err)
		}

		chunk := make([]byte, binary.BigEndian.Uint32(prefix[:]))
		_, err = io.ReadFull(ss.r, chunk)
		if err != nil {
			return fmt.Errorf("snapshot: reading chunk: %s", err)
		}
		err = fn(chunk)
		if err != nil {
			return err
		}
	}
}

func (ss *streamSink) Close() error {
	if ss.w != nil {
		return ss.w.Close()
	}
	return nil
}
