// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML configuration file. Flags set on the command line take precedence.")
	flagSet.String("root", "", "root directory for the lock file and the default trap socket.")
	flagSet.String("socket", "", "path of the trap socket, default is lacd.sock in the root directory.")
	flagSet.String("file-root", "/", "host directory backing the file namespace.")
	flagSet.String("sys-root", "/sys", "host directory mirrored by the sys namespace.")
	flagSet.String("metrics-addr", "", "TCP address to serve /metrics on, e.g. localhost:9090. Empty disables it.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", defaultLogFormat, "log format: text (default), json, or json-k8s.")

	// Debugging flags: strace related
	flagSet.Bool("strace", false, "enable strace.")
	flagSet.String("strace-syscalls", "", "comma-separated list of syscalls to trace. If --strace is true and this list is empty, then all syscalls will be traced.")
	flagSet.Uint("strace-log-size", defaultStraceLogSize, "default size (in bytes) to log data argument blobs.")

	// Flags that control guest process behavior.
	flagSet.Int("max-processes", DefaultMaxProcesses, "maximum number of guest processes, including zombies.")
	flagSet.Uint64("default-stack-size", DefaultStackSize, "initial stack size of new guest images, in bytes.")
	flagSet.Uint64("memory-budget", DefaultMemoryBudget, "per-process mapped memory budget in bytes, 0 is unlimited.")
	flagSet.String("hostname", "", "hostname reported to guests, default is the host's.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, if --config is set, the configuration file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	forEachFlag(conf, func(name string, field reflect.Value) {
		field.Set(flagValue(flagSet, name, field.Type()))
	})

	if conf.ConfigFile != "" {
		fileConf, err := loadFile(conf)
		if err != nil {
			return nil, err
		}
		// Flags given explicitly win over the file.
		flagSet.Visit(func(f *flag.Flag) {
			forEachFlag(fileConf, func(name string, field reflect.Value) {
				if name == f.Name {
					field.Set(flagValue(flagSet, name, field.Type()))
				}
			})
		})
		conf = fileConf
	}

	if len(conf.RootDir) == 0 {
		// If not set, set default root dir to something (hopefully) user-writeable.
		conf.RootDir = DefaultRootDir
		// NOTE: empty values for XDG_RUNTIME_DIR should be ignored.
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			conf.RootDir = filepath.Join(runtimeDir, "lacd")
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// loadFile decodes conf.ConfigFile over a copy of conf. Keys missing from the
// file keep the values in conf.
func loadFile(conf *Config) (*Config, error) {
	fileConf := deepcopy.Copy(conf).(*Config)
	md, err := toml.DecodeFile(conf.ConfigFile, fileConf)
	if err != nil {
		return nil, fmt.Errorf("decode config file %q: %w", conf.ConfigFile, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %q: unknown keys %v", conf.ConfigFile, undecoded)
	}
	return fileConf, nil
}

// forEachFlag calls fn for each field of conf that has a flag tag.
func forEachFlag(conf *Config, fn func(name string, field reflect.Value)) {
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fn(name, obj.Field(i))
	}
}

// flagValue returns the value of the named flag, converted to typ.
func flagValue(flagSet *flag.FlagSet, name string, typ reflect.Type) reflect.Value {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", name))
	}
	return reflect.ValueOf(fl.Value.(flag.Getter).Get()).Convert(typ)
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Settings without a flag, such as path mappings, are not included.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	forEachFlag(c, func(name string, field reflect.Value) {
		f := flagSet.Lookup(name)
		if f == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		val := getVal(field)
		if val == f.DefValue {
			return
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", f.Name, val))
	})
	return rv
}

func getVal(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
