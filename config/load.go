package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/hashicorp/hcl"
)

func (cfg *config) loadFile(configFile string) error {
	b, err := ioutil.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var vals map[string]interface{}
	err = hcl.Decode(&vals, string(b))
	if err != nil {
		return err
	}

	for name, val := range vals {
		param, ok := cfg.params[name]
		if !ok {
			return fmt.Errorf("%s is not a param", name)
		}
		if (param.Options & NoConfigFile) != 0 {
			return fmt.Errorf("%s may not be set in a config file", name)
		}

		err := param.Val.SetValue(val)
		if err != nil {
			return fmt.Errorf("param %s: %s", name, err)
		}
	}

	return nil
}

// LoadFile applies an HCL config file to the registered params.
func LoadFile(configFile string) error {
	return cfg.loadFile(configFile)
}
