// Package lit is the glue between a Microsoft Reader (.lit) file's
// structured-storage layout and cabriolet's LZX codec. LIT's own
// piece/section layout is only loosely specified here (see DESIGN.md);
// this package models its outer directory the way an MSI's
// compound-file-binary layout is modeled elsewhere in the codebase —
// walking richardlehane/mscfb entries rather than a hand-rolled OLE
// reader — and reaches inside for the "/DRMStorage/DRMSource" and content
// pieces only as far as extraction needs. DRM (DES) decryption is out of
// scope; encrypted pieces are surfaced as raw bytes, undecrypted.
package lit

import (
	"io"
	"strings"

	"github.com/richardlehane/mscfb"

	"github.com/dolansoft/cabriolet/cab"
	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/lzx"
)

// Piece is one named stream inside a LIT compound file.
type Piece struct {
	Name      string
	Size      uint32
	Encrypted bool
}

// Reader walks a LIT file's compound-storage directory, the way
// mscfb.New + doc.Next walks an MSI's.
type Reader struct {
	doc *mscfb.Reader
}

// Open wraps an io.ReaderAt holding a LIT file's bytes.
func Open(r io.ReaderAt) (*Reader, error) {
	doc, err := mscfb.New(r)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ParseError, err, "lit: not a compound-file-binary container")
	}
	return &Reader{doc: doc}, nil
}

// Next advances to the next piece in the compound file, or returns io.EOF.
func (l *Reader) Next() (*Piece, error) {
	entry, err := l.doc.Next()
	if err != nil {
		return nil, err
	}
	name := entry.Name
	return &Piece{
		Name:      name,
		Size:      uint32(entry.Size),
		Encrypted: strings.Contains(strings.ToUpper(name), "DRM"),
	}, nil
}

// ReadPiece reads the current piece's raw bytes (as returned by the most
// recent Next), undecrypted regardless of Piece.Encrypted.
func (l *Reader) ReadPiece() ([]byte, error) {
	data, err := io.ReadAll(l.doc)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.IoError, err, "lit: reading piece content")
	}
	return data, nil
}

// NewContentDecompressor builds an LZX decompressor for a LIT content
// piece, mirroring the same LZXC-controlled windowing CHM uses (LIT's
// compression section carries the same reset-interval/window-size
// fields). r is bounded to compressedSize bytes via cab.ExactReader so a
// piece's decompressor can never read into whatever compound-file sector
// follows it.
func NewContentDecompressor(r io.Reader, w io.Writer, windowBits, resetInterval int, compressedSize int64) (codec.Decompressor, error) {
	return lzx.New(cab.ExactReader(r, compressedSize), w, 0, codec.Options{WindowBits: windowBits, ResetInterval: resetInterval})
}
