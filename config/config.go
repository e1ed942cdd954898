package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

type setBy int

const (
	byDefault setBy = iota
	byFlag
	byEnv
	byConfig
)

// Config is a registry of configuration variables. Each variable has a
// default, may be set by a command line flag, an environment variable, or a
// config file, with that precedence.
type Config struct {
	fs   *flag.FlagSet
	vars map[string]*Variable
}

// Variable is a single configuration variable; its type is fixed by the
// builder method (Bool, Int, String, ...) that finishes it.
type Variable struct {
	cfg    *Config
	name   string
	usage  string
	env    string
	hidden bool
	by     setBy
	val    value
}

type value interface {
	Set(s string) error
	SetValue(v interface{}) error
	String() string
}

func NewConfig(fs *flag.FlagSet) *Config {
	return &Config{
		fs:   fs,
		vars: map[string]*Variable{},
	}
}

// Var registers a new variable; p must be a pointer to the variable's storage
// and is bound by the typed builder method called last.
func (c *Config) Var(p interface{}, name string) *Variable {
	if _, ok := c.vars[name]; ok {
		panic(fmt.Sprintf("config: variable redefined: %s", name))
	}

	cvar := &Variable{cfg: c, name: name, val: newValue(p)}
	c.vars[name] = cvar
	return cvar
}

// Usage sets the help text shown for the variable's flag.
func (cvar *Variable) Usage(usage string) *Variable {
	cvar.usage = usage
	return cvar
}

// Env names an environment variable consulted by Config.Env.
func (cvar *Variable) Env(env string) *Variable {
	if _, ok := cvar.val.(mapValue); ok {
		panic(fmt.Sprintf("config: %s: map variables can not be set from the environment",
			cvar.name))
	}
	cvar.env = env
	return cvar
}

// Hide excludes the variable from Vars listings.
func (cvar *Variable) Hide() *Variable {
	cvar.hidden = true
	return cvar
}

type flagValue struct {
	cvar *Variable
}

func (fv flagValue) Set(s string) error {
	err := fv.cvar.val.Set(s)
	if err != nil {
		return err
	}
	fv.cvar.by = byFlag
	return nil
}

func (fv flagValue) String() string {
	if fv.cvar == nil {
		return ""
	}
	return fv.cvar.val.String()
}

func (cvar *Variable) flag() {
	if cvar.cfg.fs != nil {
		cvar.cfg.fs.Var(flagValue{cvar}, cvar.name, cvar.usage)
	}
}

func (cvar *Variable) Bool(def bool) *bool {
	bv := cvar.val.(*boolValue)
	*bv = boolValue(def)
	cvar.flag()
	return (*bool)(bv)
}

func (cvar *Variable) Int(def int) *int {
	iv := cvar.val.(*intValue)
	*iv = intValue(def)
	cvar.flag()
	return (*int)(iv)
}

func (cvar *Variable) Int64(def int64) *int64 {
	iv := cvar.val.(*int64Value)
	*iv = int64Value(def)
	cvar.flag()
	return (*int64)(iv)
}

func (cvar *Variable) Uint(def uint) *uint {
	uv := cvar.val.(*uintValue)
	*uv = uintValue(def)
	cvar.flag()
	return (*uint)(uv)
}

func (cvar *Variable) Uint64(def uint64) *uint64 {
	uv := cvar.val.(*uint64Value)
	*uv = uint64Value(def)
	cvar.flag()
	return (*uint64)(uv)
}

func (cvar *Variable) Float64(def float64) *float64 {
	fv := cvar.val.(*float64Value)
	*fv = float64Value(def)
	cvar.flag()
	return (*float64)(fv)
}

func (cvar *Variable) String(def string) *string {
	sv := cvar.val.(*stringValue)
	*sv = stringValue(def)
	cvar.flag()
	return (*string)(sv)
}

func (cvar *Variable) Array() *Array {
	av := cvar.val.(*Array)
	cvar.flag()
	return av
}

func (cvar *Variable) Map() Map {
	// Maps can only be set from a config file.
	return cvar.val.(mapValue).m
}

// Env applies environment variables to every variable that names one and was
// not already set by a flag.
func (c *Config) Env() error {
	for _, cvar := range c.vars {
		if cvar.env == "" || cvar.by != byDefault {
			continue
		}
		s, ok := os.LookupEnv(cvar.env)
		if !ok {
			continue
		}
		err := cvar.val.Set(s)
		if err != nil {
			return fmt.Errorf("config: %s: %s", cvar.name, err)
		}
		cvar.by = byEnv
	}
	return nil
}

// Vars calls fn for every unhidden variable, in name order.
func (c *Config) Vars(fn func(name, val string)) {
	names := make([]string, 0, len(c.vars))
	for name, cvar := range c.vars {
		if cvar.hidden {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn(name, c.vars[name].val.String())
	}
}
