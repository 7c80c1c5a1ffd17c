// Package events reads and writes event files and simulates synthetic
// events. An event file is a stream of MessagePack-encoded types.Event
// records following a small header.
package events

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrissnell/model3d/internal/types"
)

const (
	fileMagic   = "model3d-events"
	fileVersion = 1
)

// ErrBadHeader is returned for streams that are not event files.
var ErrBadHeader = errors.New("not a model3d event file")

type header struct {
	Magic   string `msgpack:"magic"`
	Version int    `msgpack:"version"`
	Run     int    `msgpack:"run"`
}

// Reader yields events from a stream. It serves both the pixel data and the
// reconstruction seed of each event.
type Reader struct {
	dec    *msgpack.Decoder
	closer io.Closer
	run    int
}

// NewReader checks the header of r and returns a Reader positioned at the
// first event.
func NewReader(r io.Reader) (*Reader, error) {
	dec := msgpack.NewDecoder(r)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("reading event file header: %w", err)
	}
	if h.Magic != fileMagic || h.Version != fileVersion {
		return nil, fmt.Errorf("magic %q version %d: %w", h.Magic, h.Version, ErrBadHeader)
	}
	return &Reader{dec: dec, run: h.Run}, nil
}

// Open opens an event file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening event file: %w", err)
	}
	r, err := NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Run is the run number recorded in the header.
func (r *Reader) Run() int { return r.run }

// Next returns the next event, or io.EOF after the last one.
func (r *Reader) Next() (*types.Event, error) {
	var ev types.Event
	if err := r.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return &ev, nil
}

// Close closes the underlying file, if Open created it.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Writer appends events to a stream.
type Writer struct {
	bw     *bufio.Writer
	enc    *msgpack.Encoder
	closer io.Closer
	n      int
}

// NewWriter writes the header for run to w.
func NewWriter(w io.Writer, run int) (*Writer, error) {
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	if err := enc.Encode(header{Magic: fileMagic, Version: fileVersion, Run: run}); err != nil {
		return nil, fmt.Errorf("writing event file header: %w", err)
	}
	return &Writer{bw: bw, enc: enc}, nil
}

// Create creates or truncates an event file.
func Create(path string, run int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating event file: %w", err)
	}
	w, err := NewWriter(f, run)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write appends ev.
func (w *Writer) Write(ev *types.Event) error {
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("encoding event %d: %w", ev.ID, err)
	}
	w.n++
	return nil
}

// Count is the number of events written.
func (w *Writer) Count() int { return w.n }

// Close flushes buffered events and closes the file, if Create opened it.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flushing event file: %w", err)
	}
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
