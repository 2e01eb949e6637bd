package repl

import (
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"

	"github.com/tansudb/tansu/storage/tstore"
)

const (
	tansuHistory = ".tansu_history"
)

type lineReader struct {
	line *liner.State
}

func (lr *lineReader) ReadLine() (string, error) {
	s, err := lr.line.Prompt("tansu: ")
	if err == liner.ErrPromptAborted || err == io.EOF {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	lr.line.AppendHistory(s)
	return s, nil
}

// Interact runs the repl on the terminal with line editing and history.
func Interact(tbl *tstore.Table) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(tansuHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	Repl(tbl, &lineReader{line: line}, os.Stdout)

	if f, err := os.Create(tansuHistory); err != nil {
		fmt.Fprintf(os.Stderr, "tansu: error writing history file, %s: %s", tansuHistory, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
}
