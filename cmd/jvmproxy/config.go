package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/inconshreveable/log15"
	"github.com/naoina/toml"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/daimatz/jvmproxy/pkg/proxy"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   "",
	Description: `The dumpconfig command shows configuration values.`,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type jvmproxyConfig struct {
	ClassPath   string
	JmodPath    string `toml:",omitempty"`
	ProxyPrefix string
	CacheSize   int
	Verbosity   int
}

func defaultConfig() jvmproxyConfig {
	return jvmproxyConfig{
		ClassPath:   ".",
		ProxyPrefix: proxy.DefaultPrefix,
		CacheSize:   proxy.DefaultCacheSize,
		Verbosity:   int(log15.LvlWarn),
	}
}

func loadConfig(file string, cfg *jvmproxyConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig applies defaults, then the config file, then flags.
func makeConfig(ctx *cli.Context) (*jvmproxyConfig, error) {
	cfg := defaultConfig()

	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return nil, err
		}
	}

	if ctx.GlobalIsSet(verbosityFlag.Name) {
		cfg.Verbosity = ctx.GlobalInt(verbosityFlag.Name)
	}
	if ctx.GlobalIsSet(classPathFlag.Name) {
		cfg.ClassPath = ctx.GlobalString(classPathFlag.Name)
	}
	if ctx.GlobalIsSet(jmodFlag.Name) {
		cfg.JmodPath = ctx.GlobalString(jmodFlag.Name)
	}
	if ctx.GlobalIsSet(prefixFlag.Name) {
		cfg.ProxyPrefix = ctx.GlobalString(prefixFlag.Name)
	}
	if ctx.GlobalIsSet(cacheSizeFlag.Name) {
		cfg.CacheSize = ctx.GlobalInt(cacheSizeFlag.Name)
	}

	if cfg.Verbosity < int(log15.LvlCrit) || cfg.Verbosity > int(log15.LvlDebug) {
		return nil, fmt.Errorf("verbosity %d out of range 0-4", cfg.Verbosity)
	}
	if cfg.ProxyPrefix == "" {
		return nil, errors.New("proxy prefix must not be empty")
	}
	if err := proxy.ValidateClassName(cfg.ProxyPrefix + "0"); err != nil {
		return nil, fmt.Errorf("proxy prefix: %w", err)
	}
	return &cfg, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = ctx.App.Writer.Write(out)
	return err
}
