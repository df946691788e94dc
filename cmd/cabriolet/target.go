package main

import (
	"archive/tar"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// extractTarget mirrors the teacher's TargetI (main.go): Create opens the
// next output entry, Write streams its content, Close finishes the whole
// output. directoryTarget and archiveTarget below are adapted from the
// teacher's own implementations of that interface, retargeted from
// sysroot generation to CAB extraction.
type extractTarget interface {
	Create(path string, size int64, modTime time.Time) error
	Write(p []byte) (int, error)
	Close() error
}

type directoryTarget struct {
	rootDir  string
	currFile *os.File
}

func (d *directoryTarget) Create(path string, size int64, modTime time.Time) error {
	if d.currFile != nil {
		d.currFile.Close()
	}
	targetPath := filepath.Join(d.rootDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}
	f, err := os.Create(targetPath)
	if err != nil {
		return err
	}
	d.currFile = f
	return nil
}

func (d *directoryTarget) Write(p []byte) (int, error) {
	return d.currFile.Write(p)
}

func (d *directoryTarget) Close() error {
	if d.currFile != nil {
		return d.currFile.Close()
	}
	return nil
}

type archiveTarget struct {
	outFile *os.File
	outComp *zstd.Encoder
	out     *tar.Writer
}

func newArchiveTarget(name string) (*archiveTarget, error) {
	outFile, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	outComp, err := zstd.NewWriter(outFile)
	if err != nil {
		return nil, err
	}
	return &archiveTarget{outFile: outFile, outComp: outComp, out: tar.NewWriter(outComp)}, nil
}

func (a *archiveTarget) Create(path string, size int64, modTime time.Time) error {
	return a.out.WriteHeader(&tar.Header{
		Name:    path,
		ModTime: modTime,
		Size:    size,
		Mode:    0644,
	})
}

func (a *archiveTarget) Write(p []byte) (int, error) {
	return a.out.Write(p)
}

func (a *archiveTarget) Close() error {
	if err := a.out.Close(); err != nil {
		return err
	}
	if err := a.outComp.Close(); err != nil {
		return err
	}
	return a.outFile.Close()
}
