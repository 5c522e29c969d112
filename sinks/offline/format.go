// Package offline stores tracking records in a local append-only file that
// can later be replayed into any other sink.
//
// The file is a sequence of frames. Each frame is a 4-byte big-endian length
// followed by one CBOR-encoded frame body. The first frame carries the run
// header, then one frame per record, and a status frame is written on Close.
// CBOR keeps ints, floats, bools and raw bytes distinct, so a replayed record
// is identical to the one originally appended.
package offline

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// FormatVersion is written into every header.
const FormatVersion = 1

// maxFrameSize bounds a single frame. Artifacts larger than this must go to a
// sink that streams.
var maxFrameSize uint32 = 256 << 20

// Run states written in the status frame.
const (
	StateFinished = "FINISHED"
	StateFailed   = "FAILED"
)

// Header describes the run stored in a file.
type Header struct {
	Version   int               `cbor:"v"`
	RunID     string            `cbor:"id"`
	RunName   string            `cbor:"name,omitempty"`
	Tags      map[string]string `cbor:"tags,omitempty"`
	CreatedAt time.Time         `cbor:"created"`
}

// Status is the final frame of a cleanly closed file.
type Status struct {
	State    string    `cbor:"state"`
	Reason   string    `cbor:"reason,omitempty"`
	ClosedAt time.Time `cbor:"closed"`
}

type frame struct {
	Header *Header          `cbor:"h,omitempty"`
	Record *tracking.Record `cbor:"r,omitempty"`
	Status *Status          `cbor:"x,omitempty"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func writeFrame(w io.Writer, f frame) error {
	data, err := encMode.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	if uint64(len(data)) > uint64(maxFrameSize) {
		return errors.Newf("frame of %d bytes exceeds limit", len(data))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readFrame returns io.EOF only at a clean frame boundary.
func readFrame(r *bufio.Reader) (frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return frame{}, errors.Wrap(err, "truncated frame length")
		}
		return frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return frame{}, errors.Newf("frame of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return frame{}, errors.Wrap(err, "truncated frame body")
	}
	var f frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return frame{}, errors.Wrap(err, "decode frame")
	}
	return f, nil
}
