// Package repl is a line oriented console for poking at a tuple store
// table: inserting, deleting, compacting, and snapshotting.
package repl

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tansudb/tansu/snapshot"
	"github.com/tansudb/tansu/sql"
	"github.com/tansudb/tansu/storage/tstore"
)

// LineReader hands out input lines; io.EOF ends the repl.
type LineReader interface {
	ReadLine() (string, error)
}

const replHelp = `commands:
  insert <val>[, <val> ...]  insert a row; "null" for a null column
  delete <n>                 delete the n-th row in iteration order
  compact                    run forced compaction
  idle                       run one idle compaction pass
  stats                      show table counters
  dump                       render the table
  save <file>                snapshot the table to an lz4 stream file
  load <file>                load a snapshot file into the table
  help                       show this help
  quit                       leave the repl
`

func Repl(tbl *tstore.Table, lr LineReader, w io.Writer) {
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(w, err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmd := line
		var arg string
		if idx := strings.IndexAny(line, " \t"); idx != -1 {
			cmd = line[:idx]
			arg = strings.TrimSpace(line[idx+1:])
		}

		switch strings.ToLower(cmd) {
		case "insert":
			err = insertRow(tbl, arg)
			if err == nil {
				fmt.Fprintln(w, "1 row inserted")
			}
		case "delete":
			err = deleteRow(tbl, arg)
			if err == nil {
				fmt.Fprintln(w, "1 row deleted")
			}
		case "compact":
			before := tbl.BlockCount()
			tbl.ForcedCompaction()
			fmt.Fprintf(w, "%d blocks before, %d after\n", before, tbl.BlockCount())
		case "idle":
			tbl.IdleCompaction()
			fmt.Fprintf(w, "%d blocks\n", tbl.BlockCount())
		case "stats":
			fmt.Fprintf(w, "active tuples: %d\n", tbl.TupleCount())
			fmt.Fprintf(w, "allocated tuples: %d\n", tbl.AllocatedTupleCount())
			fmt.Fprintf(w, "blocks: %d\n", tbl.BlockCount())
			fmt.Fprintf(w, "tuples per block: %d\n", tbl.TuplesPerBlock())
			fmt.Fprintf(w, "non-inlined bytes: %d\n", tbl.NonInlinedMemorySize())
		case "dump":
			tbl.DebugDump(w)
		case "save":
			err = saveTable(tbl, arg)
			if err == nil {
				fmt.Fprintf(w, "saved to %s\n", arg)
			}
		case "load":
			err = loadTable(tbl, arg)
			if err == nil {
				fmt.Fprintf(w, "loaded from %s; %d rows\n", arg, tbl.TupleCount())
			}
		case "help":
			fmt.Fprint(w, replHelp)
		case "quit", "exit":
			return
		default:
			err = fmt.Errorf("unknown command: %s; try help", cmd)
		}

		if err != nil {
			fmt.Fprintln(w, err)
		}
	}
}

func insertRow(tbl *tstore.Table, arg string) error {
	ts := tbl.Schema()
	fields := strings.Split(arg, ",")
	if len(fields) != ts.ColumnCount() {
		return fmt.Errorf("expected %d values; got %d", ts.ColumnCount(), len(fields))
	}

	row := make([]sql.Value, len(fields))
	for cdx, field := range fields {
		field = strings.TrimSpace(field)
		if strings.EqualFold(field, sql.NullString) {
			continue
		}
		v, err := sql.ConvertValue(ts.ColumnType(cdx).Type, sql.StringValue(field))
		if err != nil {
			return err
		}
		row[cdx] = v
	}

	_, err := tbl.InsertTuple(row)
	return err
}

func deleteRow(tbl *tstore.Table, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return fmt.Errorf("expected a row number; got %q", arg)
	}

	it := tbl.Iterator()
	defer it.Close()
	for {
		rf, err := it.Next()
		if err == io.EOF {
			return fmt.Errorf("no row %d; table has %d rows", n, tbl.TupleCount())
		}
		if n == 0 {
			it.Close()
			tbl.DeleteTuple(rf)
			return nil
		}
		n--
	}
}

func saveTable(tbl *tstore.Table, path string) error {
	if path == "" {
		return fmt.Errorf("expected a file name")
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	snk := snapshot.NewStreamSink(f)
	err = snapshot.Save(tbl, snk, 0)
	if err != nil {
		snk.Close()
		return err
	}
	return snk.Close()
}

func loadTable(tbl *tstore.Table, path string) error {
	if path == "" {
		return fmt.Errorf("expected a file name")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return snapshot.Load(tbl, snapshot.OpenStreamSink(f))
}
