// Package ktest implements the on-disk test-record format (spec.md §6.1):
// a bit-exact binary encoding of one terminated state's replay inputs, plus
// the node/DScenario/error extension fields this core adds on top of the
// legacy format.
package ktest

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// CurrentVersion is the highest version this package writes and the upper
// bound it accepts on read (spec.md §6.1: "must be ≤ current on read").
const CurrentVersion = 30701

// versionSymArgvs is the first version carrying sym_argvs/sym_argv_len.
const versionSymArgvs = 2

var (
	magicCurrent = [5]byte{'K', 'T', 'E', 'S', 'T'}
	magicLegacy  = [5]byte{'B', 'O', 'U', 'T', '\n'}
)

// ErrBadMagic is returned when neither recognised magic prefix is present.
var ErrBadMagic = errors.New("ktest: unrecognised file magic")

// ErrFutureVersion is returned when a record's version exceeds CurrentVersion.
var ErrFutureVersion = errors.New("ktest: record version newer than supported")

// Object is one named byte blob a test record replays into the target
// program's address space (spec.md §6.1's num_objects entries).
type Object struct {
	Name  string
	Bytes []byte
}

// Record is one fully-decoded test record.
type Record struct {
	Version int
	Args    []string

	// SymArgvs/SymArgvLen are present iff Version >= 2; zero otherwise.
	SymArgvs   uint32
	SymArgvLen uint32

	Objects []Object

	// Extension fields this core adds on top of the legacy format.
	NodeID     uint32
	DScenario  uint32
	Err        string
}

// Encode writes r in the current, bit-exact wire format.
func Encode(w io.Writer, r *Record) error {
	version := r.Version
	if version == 0 {
		version = CurrentVersion
	}
	if version > CurrentVersion {
		return errors.Wrapf(ErrFutureVersion, "version %d > current %d", version, CurrentVersion)
	}
	bw := &byteWriter{w: w}
	bw.write(magicCurrent[:])
	bw.writeU32(uint32(version))
	bw.writeU32(uint32(len(r.Args)))
	for _, a := range r.Args {
		bw.writeString(a)
	}
	if version >= versionSymArgvs {
		bw.writeU32(r.SymArgvs)
		bw.writeU32(r.SymArgvLen)
	}
	bw.writeU32(uint32(len(r.Objects)))
	for _, o := range r.Objects {
		bw.writeString(o.Name)
		bw.writeU32(uint32(len(o.Bytes)))
		bw.write(o.Bytes)
	}
	bw.writeU32(r.NodeID)
	bw.writeU32(r.DScenario)
	bw.writeString(r.Err)
	return bw.err
}

// Decode reads a Record, accepting either magic. Returns ErrBadMagic or
// ErrFutureVersion on a malformed/unsupported input; any other error is an
// I/O failure from r.
func Decode(r io.Reader) (*Record, error) {
	br := &byteReader{r: r}
	var magic [5]byte
	br.read(magic[:])
	if br.err != nil {
		return nil, br.err
	}
	if magic != magicCurrent && magic != magicLegacy {
		return nil, ErrBadMagic
	}
	version := br.readU32()
	if br.err != nil {
		return nil, br.err
	}
	if int(version) > CurrentVersion {
		return nil, errors.Wrapf(ErrFutureVersion, "version %d > current %d", version, CurrentVersion)
	}
	rec := &Record{Version: int(version)}
	numArgs := br.readU32()
	rec.Args = make([]string, numArgs)
	for i := range rec.Args {
		rec.Args[i] = br.readString()
	}
	if version >= versionSymArgvs {
		rec.SymArgvs = br.readU32()
		rec.SymArgvLen = br.readU32()
	}
	numObjects := br.readU32()
	rec.Objects = make([]Object, numObjects)
	for i := range rec.Objects {
		rec.Objects[i].Name = br.readString()
		n := br.readU32()
		buf := make([]byte, n)
		br.read(buf)
		rec.Objects[i].Bytes = buf
	}
	rec.NodeID = br.readU32()
	rec.DScenario = br.readU32()
	rec.Err = br.readString()
	if br.err != nil {
		if br.err == io.EOF {
			br.err = io.ErrUnexpectedEOF
		}
		return nil, br.err
	}
	return rec, nil
}

// EncodeBytes is a convenience wrapper around Encode returning the encoded
// bytes directly.
func EncodeBytes(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type byteWriter struct {
	w   io.Writer
	err error
}

func (b *byteWriter) write(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = b.w.Write(p)
}

func (b *byteWriter) writeU32(v uint32) {
	if b.err != nil {
		return
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.write(tmp[:])
}

func (b *byteWriter) writeString(s string) {
	b.writeU32(uint32(len(s)))
	b.write([]byte(s))
}

type byteReader struct {
	r   io.Reader
	err error
}

func (b *byteReader) read(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = io.ReadFull(b.r, p)
}

func (b *byteReader) readU32() uint32 {
	if b.err != nil {
		return 0
	}
	var tmp [4]byte
	b.read(tmp[:])
	if b.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(tmp[:])
}

func (b *byteReader) readString() string {
	n := b.readU32()
	if b.err != nil {
		return ""
	}
	buf := make([]byte, n)
	b.read(buf)
	if b.err != nil {
		return ""
	}
	return string(buf)
}
