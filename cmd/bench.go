package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tansudb/tansu/snapshot"
	"github.com/tansudb/tansu/sql"
	"github.com/tansudb/tansu/storage/tstore"
)

var (
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Fill a table with random tuples, churn it, and compact it",
		RunE:  benchRun,
	}

	benchTuples    = 100000
	deleteFraction = 0.5
	snapshotSink   = ""
	snapshotPath   = "tansu.snap"
)

func initBenchFlags(fs *pflag.FlagSet) {
	fs.IntVar(&benchTuples, "tuples", benchTuples, "`number` of tuples to insert")
	fs.Float64Var(&deleteFraction, "delete-fraction", deleteFraction,
		"`fraction` of tuples to delete before compacting")
	fs.StringVar(&snapshotSink, "sink", snapshotSink,
		"snapshot sink: stream, bbolt, badger, or pebble; empty for no snapshot")
	fs.StringVar(&snapshotPath, "snapshot", snapshotPath,
		"`path` for the snapshot file or directory")
}

func init() {
	initBenchFlags(benchCmd.Flags())
	tansuCmd.AddCommand(benchCmd)
}

func benchSink() (snapshot.Sink, error) {
	switch snapshotSink {
	case "stream":
		f, err := os.Create(snapshotPath)
		if err != nil {
			return nil, err
		}
		return snapshot.NewStreamSink(f), nil
	case "bbolt":
		return snapshot.NewBBoltSink(snapshotPath)
	case "badger":
		return snapshot.NewBadgerSink(snapshotPath, log.StandardLogger())
	case "pebble":
		return snapshot.NewPebbleSink(snapshotPath, log.StandardLogger())
	}

	return nil, fmt.Errorf("tansu: got %s for sink; want stream, bbolt, badger, or pebble",
		snapshotSink)
}

func benchRun(cmd *cobra.Command, args []string) error {
	tbl := demoTable()
	defer tbl.Close()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	start := time.Now()
	refs := make([]tstore.Ref, 0, benchTuples)
	for ii := 0; ii < benchTuples; ii++ {
		row := []sql.Value{
			sql.Int64Value(ii),
			sql.StringValue(fmt.Sprintf("tuple-%d", ii)),
			sql.Float64Value(rnd.Float64()),
			sql.BoolValue(ii%2 == 0),
		}
		if rnd.Intn(10) == 0 {
			row[1] = nil
			row[2] = nil
		}

		rf, err := tbl.InsertTuple(row)
		if err != nil {
			return fmt.Errorf("tansu: insert %d: %s", ii, err)
		}
		refs = append(refs, rf)
	}
	fmt.Printf("inserted %d tuples in %s; %d blocks\n", benchTuples, time.Since(start),
		tbl.BlockCount())

	start = time.Now()
	var deleted int
	for _, rf := range refs {
		if rnd.Float64() < deleteFraction {
			tbl.DeleteTuple(rf)
			deleted++
		}
	}
	fmt.Printf("deleted %d tuples in %s; %d blocks\n", deleted, time.Since(start),
		tbl.BlockCount())

	start = time.Now()
	before := tbl.AllocatedTupleCount()
	tbl.ForcedCompaction()
	fmt.Printf("compacted %d -> %d allocated slots in %s; %d blocks\n", before,
		tbl.AllocatedTupleCount(), time.Since(start), tbl.BlockCount())

	if snapshotSink != "" {
		snk, err := benchSink()
		if err != nil {
			return err
		}

		start = time.Now()
		err = snapshot.Save(tbl, snk, 0)
		if cerr := snk.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("tansu: snapshot: %s", err)
		}
		fmt.Printf("snapshotted %d tuples to %s %s in %s\n", tbl.TupleCount(), snapshotSink,
			snapshotPath, time.Since(start))
	}

	return nil
}
