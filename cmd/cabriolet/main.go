// Command cabriolet is a minimal CLI front end over the cab/szdd/formats
// packages, kept deliberately thin: a flag-var/log.Fatalf main.go in the
// familiar idiom, with a --out-tar zstd+tar bundling convenience layered
// on top rather than a feature addition in its own right.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dolansoft/cabriolet/cab"
)

var (
	flagFormat  = flag.String("format", "cab", "Container format to read (only cab is wired up in this CLI)")
	flagSalvage = flag.Bool("salvage", false, "Continue past checksum/decompression errors and emit a repair summary instead of failing on the first bad block")
	flagOutDir  = flag.String("out-dir", "", "Extract files under this directory. Exclusive with --out-tar.")
	flagOutTar  = flag.String("out-tar", "", "Extract files into a zstd-compressed tarball at this path. Exclusive with --out-dir.")
	flagVerbose = flag.Bool("v", false, "Log each extracted file's name as it's written")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		log.Fatalf("usage: cabriolet [flags] <archive>")
	}
	if *flagFormat != "cab" {
		log.Fatalf("unsupported --format %q (only cab is wired up in this CLI)", *flagFormat)
	}

	if err := run(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	c, err := cab.Open(f)
	if err != nil {
		return err
	}

	out, err := newTarget()
	if err != nil {
		return err
	}
	defer out.Close()

	emit := func(file *cab.File, r io.Reader) error {
		if *flagVerbose {
			log.Printf("extracting %s (%d bytes)", file.Name, file.Size)
		}
		if err := out.Create(file.Name, int64(file.Size), file.ModTime); err != nil {
			return err
		}
		_, err := io.Copy(out, r)
		return err
	}

	if *flagSalvage {
		report := cab.Repair(c, emit)
		log.Printf("repair: %d recovered, %d partial, %d failed", len(report.Recovered), len(report.Partial), len(report.Failed))
		return report.Error
	}

	e := cab.NewExtractor(cab.Options{})
	return e.ExtractAll(c, emit)
}

func newTarget() (extractTarget, error) {
	switch {
	case *flagOutDir != "" && *flagOutTar != "":
		return nil, fmt.Errorf("--out-dir and --out-tar are mutually exclusive")
	case *flagOutDir != "":
		return &directoryTarget{rootDir: *flagOutDir}, nil
	case *flagOutTar != "":
		return newArchiveTarget(*flagOutTar)
	default:
		return nil, fmt.Errorf("pass either --out-dir or --out-tar")
	}
}
