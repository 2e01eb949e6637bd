package flags

import (
	"strings"

	"github.com/tansudb/tansu/config"
)

type Flag int

const (
	MmapBlocks Flag = iota
	OneTupleBlocks
)

type flagDefault struct {
	flag Flag
	def  bool
}

var (
	defaultFlags = map[string]flagDefault{
		"mmap_blocks":      {MmapBlocks, false},
		"one_tuple_blocks": {OneTupleBlocks, false},
	}
)

func LookupFlag(nam string) (Flag, bool) {
	fd, ok := defaultFlags[strings.ToLower(nam)]
	return fd.flag, ok
}

func ListFlags(fn func(nam string, f Flag)) {
	for nam, fd := range defaultFlags {
		fn(nam, fd.flag)
	}
}

type Flags []bool

func (flgs Flags) GetFlag(f Flag) bool {
	return flgs[f]
}

// Config registers every flag as a config param and returns the flag set
// the params write through to.
func Config() Flags {
	flgs := make([]bool, len(defaultFlags))
	for nam, fd := range defaultFlags {
		config.BoolParam(&flgs[fd.flag], nam, fd.def, config.Default)
	}
	return flgs
}

func Default() Flags {
	flgs := make([]bool, len(defaultFlags))
	for _, fd := range defaultFlags {
		flgs[fd.flag] = fd.def
	}
	return flgs
}
