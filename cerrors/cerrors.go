// Package cerrors defines the error taxonomy shared by every layer of
// cabriolet: a small set of sentinel kinds that callers can match with
// errors.Is, each wrapping a caller-supplied message.
package cerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the broad category of a cabriolet error, independent of
// the specific message. Kinds are matched with errors.Is against the
// exported sentinels below.
type Kind error

var (
	// IoError is an underlying read/write/seek failure.
	IoError Kind = errors.New("io error")
	// ParseError is a structural violation of a container header.
	ParseError Kind = errors.New("parse error")
	// SignatureError is a magic-byte mismatch.
	SignatureError Kind = errors.New("signature error")
	// FormatError is a valid magic but internally inconsistent field.
	FormatError Kind = errors.New("format error")
	// DecompressionError is a codec-internal violation.
	DecompressionError Kind = errors.New("decompression error")
	// CompressionError means the compressor could not encode the input.
	CompressionError Kind = errors.New("compression error")
	// ChecksumError is a CAB XOR-32 mismatch.
	ChecksumError Kind = errors.New("checksum error")
	// UnsupportedFormatError is an unknown compression kind or algorithm.
	UnsupportedFormatError Kind = errors.New("unsupported format")
	// ArgumentError is bad caller input.
	ArgumentError Kind = errors.New("argument error")
)

// kindErr pairs a Kind with a specific message, and unwraps to the Kind so
// that errors.Is(err, cerrors.DecompressionError) works.
type kindErr struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindErr) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Is lets errors.Is(err, SomeKind) match without walking into the wrapped
// cause, which may be an unrelated error from another package.
func (e *kindErr) Is(target error) bool { return target == e.kind }

// Unwrap exposes the wrapped cause, if any, for errors.As / further errors.Is.
func (e *kindErr) Unwrap() error { return e.err }

// New builds an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &kindErr{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind that also wraps an underlying
// cause, preserving it for errors.Is/errors.As on the cause itself.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &kindErr{kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// Is reports whether err (or anything it wraps) is of the given kind.
func Is(err error, kind Kind) bool { return errors.Is(err, kind) }
