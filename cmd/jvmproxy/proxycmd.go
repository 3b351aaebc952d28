package main

import (
	"fmt"
	"os"
	"path/filepath"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/daimatz/jvmproxy/pkg/classfile"
	"github.com/daimatz/jvmproxy/pkg/proxy"
)

var (
	outDirFlag = cli.StringFlag{
		Name:  "out",
		Usage: "Output directory",
		Value: ".",
	}
	dotFlag = cli.BoolFlag{
		Name:  "dot",
		Usage: "Also write the dispatch graph in DOT format",
	}

	genCommand = cli.Command{
		Action:    generate,
		Name:      "gen",
		Usage:     "Generate a proxy class for interfaces",
		ArgsUsage: "<Interface> [<Interface>...]",
		Flags:     []cli.Flag{outDirFlag, dotFlag},
		Description: `
The gen command generates one proxy class implementing every named interface
and writes it to the output directory. Interfaces are loaded from the class
path or the jmod.`,
	}

	inspectCommand = cli.Command{
		Action:    inspect,
		Name:      "inspect",
		Usage:     "Print the structure of a class file",
		ArgsUsage: "<file.class>",
	}
)

func generate(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("usage: %s gen [--out DIR] [--dot] <Interface>...", ctx.App.Name)
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	gen := proxy.NewGenerator(proxy.NewCounterNames(cfg.ProxyPrefix))
	factory := proxy.NewFactory(newHost(cfg), gen, cfg.CacheSize)

	gc, err := factory.ProxyClass(ctx.Args()...)
	if err != nil {
		return err
	}

	outDir := ctx.String(outDirFlag.Name)
	classPath := filepath.Join(outDir, filepath.FromSlash(gc.Name)+".class")
	if err := os.MkdirAll(filepath.Dir(classPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(classPath, gc.Bytes, 0644); err != nil {
		return fmt.Errorf("write %s: %w", classPath, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes, %d methods)\n", classPath, len(gc.Bytes), len(gc.Methods))

	if ctx.Bool(dotFlag.Name) {
		dotPath := filepath.Join(outDir, filepath.FromSlash(gc.Name)+".dot")
		if err := os.WriteFile(dotPath, []byte(proxy.DOT(gc)), 0644); err != nil {
			return fmt.Errorf("write %s: %w", dotPath, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", dotPath)
	}
	return nil
}

func inspect(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: %s inspect <file.class>", ctx.App.Name)
	}
	cf, err := classfile.ParseFile(ctx.Args().First())
	if err != nil {
		return err
	}
	name, err := cf.ClassName()
	if err != nil {
		return err
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return err
	}

	w := ctx.App.Writer
	kind := "class"
	if cf.IsInterface() {
		kind = "interface"
	}
	fmt.Fprintf(w, "%s %s (version %d.%d, flags 0x%04X)\n", kind, name, cf.MajorVersion, cf.MinorVersion, cf.AccessFlags)
	if super := cf.SuperClassName(); super != "" {
		fmt.Fprintf(w, "  extends %s\n", super)
	}
	for _, i := range ifaces {
		fmt.Fprintf(w, "  implements %s\n", i)
	}
	for _, f := range cf.Fields {
		fmt.Fprintf(w, "  field %s %s (flags 0x%04X)\n", f.Name, f.Descriptor, f.AccessFlags)
	}
	for slot, m := range cf.Methods {
		fmt.Fprintf(w, "  [%d] %s%s (flags 0x%04X)", slot, m.Name, m.Descriptor, m.AccessFlags)
		if m.Code != nil {
			fmt.Fprintf(w, " stack=%d locals=%d code=%d", m.Code.MaxStack, m.Code.MaxLocals, len(m.Code.Code))
		}
		fmt.Fprintln(w)
	}
	return nil
}
