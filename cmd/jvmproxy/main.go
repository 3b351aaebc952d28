// jvmproxy runs class files on the gojvm interpreter and generates dynamic
// proxy classes for interfaces it can load.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inconshreveable/log15"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/daimatz/jvmproxy/pkg/vm"
)

var log = log15.New("module", "cli")

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug",
		Value: int(log15.LvlWarn),
	}
	classPathFlag = cli.StringFlag{
		Name:  "classpath",
		Usage: "Directory holding user classes",
	}
	jmodFlag = cli.StringFlag{
		Name:  "jmod",
		Usage: "Path of java.base.jmod (default: discovered from JAVA_BASE_JMOD or JAVA_HOME)",
	}
	prefixFlag = cli.StringFlag{
		Name:  "prefix",
		Usage: "Name prefix of generated proxy classes",
	}
	cacheSizeFlag = cli.IntFlag{
		Name:  "cachesize",
		Usage: "Number of interface sets whose proxy class is cached",
	}

	globalFlags = []cli.Flag{
		configFileFlag,
		verbosityFlag,
		classPathFlag,
		jmodFlag,
		prefixFlag,
		cacheSizeFlag,
	}

	runCommand = cli.Command{
		Action:    runClass,
		Name:      "run",
		Usage:     "Execute the main method of a class",
		ArgsUsage: "<Class | path/to/Class.class>",
		Description: `
The run command loads the class from the class path and executes its
public static void main(String[]) method.`,
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "JVM proxy class generator and interpreter"
	app.HideVersion = true
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		runCommand,
		genCommand,
		inspectCommand,
		dumpConfigCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		setupLogging(cfg.Verbosity)
		return nil
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging sends records up to the given level to stderr.
func setupLogging(verbosity int) {
	handler := log15.StreamHandler(os.Stderr, log15.TerminalFormat())
	log15.Root().SetHandler(log15.LvlFilterHandler(log15.Lvl(verbosity), handler))
}

func findJmodPath() string {
	// 1. Explicit env var
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	// 2. JAVA_HOME
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	// 3. Glob fallback
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// newHost builds a VM over the configured class path. Without a jmod only
// the built-in JDK classes are available.
func newHost(cfg *jvmproxyConfig) *vm.VM {
	jmodPath := cfg.JmodPath
	if jmodPath == "" {
		jmodPath = findJmodPath()
	}
	var bootstrap vm.ClassLoader
	if jmodPath != "" {
		bootstrap = vm.NewJmodClassLoader(jmodPath)
		log.Debug("Using jmod", "path", jmodPath)
	} else {
		log.Warn("java.base.jmod not found, using built-in classes only")
	}
	return vm.NewVM(vm.NewUserClassLoader(cfg.ClassPath, bootstrap))
}

func runClass(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: %s run <Class>", ctx.App.Name)
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	className := ctx.Args().First()
	if strings.HasSuffix(className, ".class") {
		// A file path: its directory becomes the class path.
		cfg.ClassPath = filepath.Dir(className)
		className = strings.TrimSuffix(filepath.Base(className), ".class")
	}
	host := newHost(cfg)
	host.Stdout = ctx.App.Writer

	if err := host.Execute(className); err != nil {
		return fmt.Errorf("executing %s: %w", className, err)
	}
	return nil
}
