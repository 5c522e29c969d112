package offline

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// Reader iterates the records of an offline file.
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	header Header
	status *Status
}

// Open opens path and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open offline file %s", path)
	}
	rd := &Reader{f: f, r: bufio.NewReader(f)}
	fr, err := readFrame(rd.r)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "read header of %s", path)
	}
	if fr.Header == nil {
		_ = f.Close()
		return nil, errors.Newf("%s: first frame is not a header", path)
	}
	if fr.Header.Version != FormatVersion {
		_ = f.Close()
		return nil, errors.Newf("%s: unsupported format version %d", path, fr.Header.Version)
	}
	rd.header = *fr.Header
	return rd, nil
}

// Header returns the run header.
func (r *Reader) Header() Header { return r.header }

// Status returns the status frame once Next has returned io.EOF. It is nil
// for files whose writer never closed.
func (r *Reader) Status() *Status { return r.status }

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (tracking.Record, error) {
	for {
		fr, err := readFrame(r.r)
		if err != nil {
			return tracking.Record{}, err
		}
		switch {
		case fr.Record != nil:
			return *fr.Record, nil
		case fr.Status != nil:
			r.status = fr.Status
		case fr.Header != nil:
			return tracking.Record{}, errors.New("unexpected header frame")
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadAll returns the header and all records of path.
func ReadAll(path string) (Header, []tracking.Record, error) {
	rd, err := Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer rd.Close()

	var recs []tracking.Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return rd.header, recs, nil
		}
		if err != nil {
			return rd.header, recs, err
		}
		recs = append(recs, rec)
	}
}

// ReplayBatchSize is the number of records forwarded per Append by Replay.
const ReplayBatchSize = 500

// ReplayResult summarizes one Replay call.
type ReplayResult struct {
	Header  Header
	Records int
	Status  *Status
}

// Replay forwards every record of path to sink in file order. If the file
// recorded a failed run and sink implements tracking.FailureMarker, the
// failure is passed on. Replay does not close sink.
func Replay(ctx context.Context, path string, sink tracking.Sink) (ReplayResult, error) {
	rd, err := Open(path)
	if err != nil {
		return ReplayResult{}, err
	}
	defer rd.Close()

	res := ReplayResult{Header: rd.header}
	batch := make([]tracking.Record, 0, ReplayBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.Append(ctx, batch); err != nil {
			return errors.NewTransportError("Replay", tracking.SinkName(sink), res.Records, err)
		}
		res.Records += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, errors.Wrapf(err, "read %s", path)
		}
		batch = append(batch, rec)
		if len(batch) == ReplayBatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	res.Status = rd.status
	if res.Status != nil && res.Status.State == StateFailed {
		if fm, ok := sink.(tracking.FailureMarker); ok {
			fm.MarkFailed(ctx, errors.Newf("replayed run failed: %s", res.Status.Reason))
		}
	}
	return res, nil
}
