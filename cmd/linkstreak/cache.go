package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/abelbrown/linkstreak/internal/logging"
)

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default stdout)")
	fs.Parse(os.Args[1:])

	a := setup()
	defer a.close()

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.OpenFile(*out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			fatalf("open %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := a.store.Export(w); err != nil {
		fatalf("export: %v", err)
	}
	if *out != "" {
		n, _ := a.store.Count()
		fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", n, *out)
	}
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: linkstreak import <file.json | ->")
		os.Exit(1)
	}

	a := setup()
	defer a.close()

	var r io.Reader = os.Stdin
	if path := fs.Arg(0); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fatalf("open %s: %v", path, err)
		}
		defer f.Close()
		r = f
	}

	n, err := a.store.Import(r)
	if err != nil {
		fatalf("import: %v", err)
	}
	total, _ := a.store.Count()
	logging.Info("Imported metadata cache", "entries", n, "total", total)
	fmt.Printf("Imported %d entries (%d cached after eviction)\n", n, total)
}
