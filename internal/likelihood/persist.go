package likelihood

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/log"
)

// tableFormat is bumped whenever the encoded layout changes.
const tableFormat = 1

type tableFile struct {
	Format int    `msgpack:"format"`
	Table  *Table `msgpack:"table"`
}

// FileName is the name a table for key is stored under.
func FileName(key TableKey) string {
	return "lltable_pv" + strconv.FormatFloat(key.PixelVariance, 'g', -1, 64) +
		"_nsb" + strconv.FormatFloat(key.NSB, 'g', -1, 64) + ".msgpack"
}

// WriteTable encodes t to w.
func WriteTable(w io.Writer, t *Table) error {
	if err := msgpack.NewEncoder(w).Encode(tableFile{Format: tableFormat, Table: t}); err != nil {
		return fmt.Errorf("encoding likelihood table: %w", err)
	}
	return nil
}

// ReadTable decodes and validates a table written by WriteTable.
func ReadTable(r io.Reader) (*Table, error) {
	var f tableFile
	if err := msgpack.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding likelihood table: %w", err)
	}
	if f.Format != tableFormat {
		return nil, fmt.Errorf("table format %d, want %d: %w", f.Format, tableFormat, ErrInvalidTable)
	}
	if f.Table == nil {
		return nil, fmt.Errorf("empty table file: %w", ErrInvalidTable)
	}
	if err := f.Table.Validate(); err != nil {
		return nil, err
	}
	return f.Table, nil
}

// SaveTable writes t into dir under FileName(t.Key). The file is written to
// a temporary name first and renamed into place.
func SaveTable(dir string, t *Table) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating table directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lltable-*")
	if err != nil {
		return "", fmt.Errorf("creating table file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := WriteTable(bw, t); err != nil {
		tmp.Close()
		return "", err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing table file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing table file: %w", err)
	}

	path := filepath.Join(dir, FileName(t.Key))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("renaming table file: %w", err)
	}
	return path, nil
}

// LoadTable reads a table file.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening table file: %w", err)
	}
	defer f.Close()
	return ReadTable(bufio.NewReader(f))
}

// LoadOrBuild returns the table for spec from dir, building and saving it
// when no usable file exists. A table that cannot be saved is still returned.
func LoadOrBuild(ctx context.Context, dir string, spec TableSpec, logger *zap.SugaredLogger) (*Table, error) {
	logger = log.Or(logger)
	path := filepath.Join(dir, FileName(spec.Key()))

	t, err := LoadTable(path)
	switch {
	case err == nil && t.Key == spec.Key():
		logger.Infow("loaded likelihood table", "path", path)
		return t, nil
	case err == nil:
		logger.Warnw("likelihood table key mismatch, rebuilding", "path", path, "key", t.Key)
	case errors.Is(err, fs.ErrNotExist):
		logger.Infow("no likelihood table on disk, building", "path", path)
	default:
		logger.Warnw("unusable likelihood table, rebuilding", "path", path, "error", err)
	}

	t, err = BuildTable(ctx, spec)
	if err != nil {
		return nil, err
	}
	if saved, err := SaveTable(dir, t); err != nil {
		logger.Warnw("could not save likelihood table", "error", err)
	} else {
		logger.Infow("saved likelihood table", "path", saved)
	}
	return t, nil
}
