package cab

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/dolansoft/cabriolet/cerrors"
)

const searchStride = 4096

// Search scans r for an embedded "MSCF" signature at 4 KB steps, the way a
// self-extracting installer or an MSI payload carries a cabinet past some
// unrelated prefix. Each candidate offset is validated by header
// consistency (cabinet size within the file, COFFFiles in bounds, version
// 1.3) before being accepted, so a stray "MSCF" in unrelated data doesn't
// produce a false positive.
func Search(r io.ReadSeeker) (int64, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, cerrors.Wrap(cerrors.IoError, err, "cab: seek to end")
	}
	var probe [headerSize]byte
	for off := int64(0); off+int64(len(probe)) <= size; off += searchStride {
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return 0, cerrors.Wrap(cerrors.IoError, err, "cab: seek to probe offset")
		}
		if _, err := io.ReadFull(r, probe[:]); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				break
			}
			return 0, cerrors.Wrap(cerrors.IoError, err, "cab: short read during search")
		}
		if !bytes.Equal(probe[0:4], []byte("MSCF")) {
			continue
		}
		cbCabinet := binary.LittleEndian.Uint32(probe[8:12])
		coffFiles := binary.LittleEndian.Uint32(probe[16:20])
		versionMinor := probe[24]
		versionMajor := probe[25]
		if versionMajor != 1 || versionMinor != 3 {
			continue
		}
		if int64(cbCabinet) > size-off {
			continue
		}
		if int64(coffFiles) >= int64(cbCabinet) {
			continue
		}
		return off, nil
	}
	return 0, cerrors.New(cerrors.SignatureError, "cab: no embedded cabinet found")
}

// SearchAndOpen finds the first embedded cabinet in r and parses it. The
// returned Cabinet reads r through an offset-rebasing wrapper, so its
// offsets are relative to the found cabinet's start.
func SearchAndOpen(r io.ReadSeeker) (*Cabinet, error) {
	off, err := Search(r)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return nil, cerrors.Wrap(cerrors.IoError, err, "cab: seek to found cabinet")
	}
	return Open(&offsetSeeker{r: r, base: off})
}

// offsetSeeker rebases an io.ReadSeeker so offset 0 corresponds to base in
// the underlying stream, letting Open's absolute-offset seeks (COFFFiles,
// folder data starts) work against an embedded cabinet exactly as they
// would against a standalone file.
type offsetSeeker struct {
	r    io.ReadSeeker
	base int64
}

func (o *offsetSeeker) Read(p []byte) (int, error) { return o.r.Read(p) }

func (o *offsetSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		abs, err := o.r.Seek(o.base+offset, io.SeekStart)
		return abs - o.base, err
	case io.SeekCurrent:
		abs, err := o.r.Seek(offset, io.SeekCurrent)
		return abs - o.base, err
	default:
		return 0, cerrors.New(cerrors.ArgumentError, "cab: unsupported seek whence in embedded cabinet")
	}
}
