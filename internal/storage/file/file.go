// Package file appends fit results to a MessagePack stream on disk.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/types"
)

// record is one entry of the stream; exactly one field is set.
type record struct {
	Result *types.FitResult  `msgpack:"result,omitempty"`
	Run    *types.RunSummary `msgpack:"run,omitempty"`
}

// Storage is a ResultSink appending to a file. Records are flushed after
// every write so a crashed run keeps what it fit.
type Storage struct {
	f      *os.File
	bw     *bufio.Writer
	enc    *msgpack.Encoder
	logger *zap.SugaredLogger
}

// New opens path for appending, creating it if needed.
func New(path string, logger *zap.SugaredLogger) (*Storage, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	bw := bufio.NewWriter(f)
	logger = log.Or(logger)
	logger.Infow("file result storage ready", "path", path)
	return &Storage{f: f, bw: bw, enc: msgpack.NewEncoder(bw), logger: logger}, nil
}

func (s *Storage) write(rec record) error {
	if err := s.enc.Encode(rec); err != nil {
		return err
	}
	return s.bw.Flush()
}

// StoreResult implements storage.ResultSink.
func (s *Storage) StoreResult(_ context.Context, r *types.FitResult) error {
	if err := s.write(record{Result: r}); err != nil {
		return fmt.Errorf("writing result of event %d: %w", r.EventID, err)
	}
	return nil
}

// StoreRun implements storage.ResultSink.
func (s *Storage) StoreRun(_ context.Context, sum *types.RunSummary) error {
	if err := s.write(record{Run: sum}); err != nil {
		return fmt.Errorf("writing run %s: %w", sum.RunID, err)
	}
	return nil
}

// Close implements storage.ResultSink.
func (s *Storage) Close() error {
	if err := s.bw.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("flushing result file: %w", err)
	}
	return s.f.Close()
}

// Contents is everything a result file holds, in write order.
type Contents struct {
	Results []types.FitResult
	Runs    []types.RunSummary
}

// Read decodes a result stream.
func Read(r io.Reader) (*Contents, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	c := &Contents{}
	for {
		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return c, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding result file: %w", err)
		}
		switch {
		case rec.Result != nil:
			c.Results = append(c.Results, *rec.Result)
		case rec.Run != nil:
			c.Runs = append(c.Runs, *rec.Run)
		}
	}
}

// Load reads the result file at path.
func Load(path string) (*Contents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()
	return Read(f)
}
