package config

import (
	"io/ioutil"
	"os"
	"testing"
	"time"
)

func TestSetParam(t *testing.T) {
	c := &config{}

	var i int
	var s string
	c.intParam(&i, "answer", 42, Default)
	c.stringParam(&s, "name", "tansu", NoUpdate)

	if i != 42 || s != "tansu" {
		t.Errorf("params got %d and %q; want defaults 42 and tansu", i, s)
	}

	err := c.setParam("answer", "54", Default)
	if err != nil {
		t.Errorf(`setParam("answer", "54") failed with %s`, err)
	}
	if i != 54 {
		t.Errorf("answer got %d want 54", i)
	}

	err = c.setParam("answer", "abc", Default)
	if err == nil {
		t.Error(`setParam("answer", "abc") did not fail`)
	}

	err = c.setParam("missing", "1", Default)
	if err == nil {
		t.Error(`setParam("missing", "1") did not fail`)
	}

	err = c.update("name", "other")
	if err == nil {
		t.Error("update of a NoUpdate param did not fail")
	}
	if s != "tansu" {
		t.Errorf("name got %q want tansu", s)
	}
}

func TestParamTypes(t *testing.T) {
	c := &config{}

	var b bool
	var i64 int64
	var f float64
	var d time.Duration
	c.boolParam(&b, "verbose", false, Default)
	c.int64Param(&i64, "big", 1, Default)
	c.float64Param(&f, "ratio", 0.5, Default)
	c.durationParam(&d, "wait", time.Second, Default)

	cases := [][2]string{
		{"verbose", "true"},
		{"big", "123456789012"},
		{"ratio", "0.25"},
		{"wait", "250ms"},
	}
	for _, nv := range cases {
		if err := c.setParam(nv[0], nv[1], Default); err != nil {
			t.Errorf("setParam(%q, %q) failed with %s", nv[0], nv[1], err)
		}
	}

	if !b || i64 != 123456789012 || f != 0.25 || d != 250*time.Millisecond {
		t.Errorf("params got %t, %d, %g, %s", b, i64, f, d)
	}
}

func TestLoadFile(t *testing.T) {
	c := &config{}

	var blockBytes int
	var ratio float64
	var name string
	var hidden bool
	c.intParam(&blockBytes, "block_bytes", 1024, Default)
	c.float64Param(&ratio, "ratio", 0.5, Default)
	c.stringParam(&name, "name", "tansu", Default)
	c.boolParam(&hidden, "hidden", false, NoConfigFile)

	f, err := ioutil.TempFile("", "tansu_config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())

	_, err = f.WriteString(`
block_bytes = 4096
ratio = 0.75
name = "test"
`)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	err = c.loadFile(f.Name())
	if err != nil {
		t.Fatalf("loadFile() failed with %s", err)
	}
	if blockBytes != 4096 || ratio != 0.75 || name != "test" {
		t.Errorf("params got %d, %g, %q", blockBytes, ratio, name)
	}

	// Missing files are not an error; a config file is optional.
	err = c.loadFile("does-not-exist.hcl")
	if err != nil {
		t.Errorf("loadFile() of missing file failed with %s", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	c := &config{}

	var hidden bool
	var num int
	c.boolParam(&hidden, "hidden", false, NoConfigFile)
	c.intParam(&num, "num", 1, Default)

	cases := []struct {
		name     string
		contents string
	}{
		{"unknown param", `missing = 1`},
		{"no config file param", `hidden = true`},
		{"wrong type", `num = "abc"`},
		{"bad syntax", `num = = =`},
	}

	for _, cs := range cases {
		f, err := ioutil.TempFile("", "tansu_config")
		if err != nil {
			t.Fatal(err)
		}
		f.WriteString(cs.contents)
		f.Close()

		if err := c.loadFile(f.Name()); err == nil {
			t.Errorf("%s: loadFile() did not fail", cs.name)
		}
		os.Remove(f.Name())
	}
}
