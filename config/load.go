package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/hashicorp/hcl"
)

func (c *Config) load(r io.Reader) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}

	var cfg map[string]interface{}
	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}

	for name, val := range cfg {
		cvar, ok := c.vars[name]
		if !ok {
			return fmt.Errorf("config: %s is not a config variable", name)
		}

		if cvar.by == byDefault {
			err := cvar.val.SetValue(val)
			if err != nil {
				return fmt.Errorf("config: %s: %s", cvar.name, err)
			}
			cvar.by = byConfig
		}
	}

	return nil
}

// Load applies a config file to every variable not already set by a flag or
// the environment. Variables set by flags or the environment win.
func (c *Config) Load(r io.Reader) error {
	return c.load(r)
}

// LoadFile is Load on the contents of filename; a missing file is not an
// error.
func (c *Config) LoadFile(filename string) error {
	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()

	return c.load(f)
}
