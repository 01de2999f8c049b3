// Package csv writes extracted tables as CSV files with a JSON manifest.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// Options configures a Destination.
type Options struct {
	// Compress writes <table>.csv.gz instead of <table>.csv.
	Compress bool
}

// Manifest describes an output table to the platform.
type Manifest struct {
	Destination string   `json:"destination"`
	Incremental bool     `json:"incremental"`
	PrimaryKey  []string `json:"primary_key,omitempty"`
}

// Destination writes one output table. Reset may be called any number of
// times; each call starts the file over.
type Destination struct {
	dir         string
	outputTable string
	opts        Options

	file   *os.File
	gz     *gzip.Writer
	writer *csv.Writer
	rows   int64

	logger *zap.Logger
}

// NewDestination creates a destination writing outputTable into dir.
func NewDestination(dir, outputTable string, opts Options) *Destination {
	return &Destination{
		dir:         dir,
		outputTable: outputTable,
		opts:        opts,
		logger:      logger.Get().With(zap.String("component", "csv_destination"), zap.String("output_table", outputTable)),
	}
}

// Path returns the data file path.
func (d *Destination) Path() string {
	name := d.outputTable + ".csv"
	if d.opts.Compress {
		name += ".gz"
	}
	return filepath.Join(d.dir, name)
}

// ManifestPath returns the manifest file path.
func (d *Destination) ManifestPath() string {
	return d.Path() + ".manifest"
}

// Rows returns the number of data rows written since the last Reset.
func (d *Destination) Rows() int64 {
	return d.rows
}

// Reset truncates the data file and prepares a fresh writer.
func (d *Destination) Reset() error {
	if err := d.closeFile(); err != nil {
		d.logger.Debug("closing previous file failed", zap.Error(err))
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil { //nolint:gosec // output dir is shared with the platform
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to create output directory").
			WithDetail("dir", d.dir)
	}

	file, err := os.Create(d.Path())
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to create output file").
			WithDetail("path", d.Path())
	}
	d.file = file
	d.rows = 0

	var w io.Writer = file
	if d.opts.Compress {
		d.gz = gzip.NewWriter(file)
		w = d.gz
	}
	d.writer = csv.NewWriter(w)
	return nil
}

// WriteHeader writes the column names.
func (d *Destination) WriteHeader(columns []string) error {
	if d.writer == nil {
		return nebulaerrors.New(nebulaerrors.KindFatal, "csv destination used before Reset")
	}
	if err := d.writer.Write(columns); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to write CSV header")
	}
	return nil
}

// WriteRow writes one data row.
func (d *Destination) WriteRow(values []string) error {
	if d.writer == nil {
		return nebulaerrors.New(nebulaerrors.KindFatal, "csv destination used before Reset")
	}
	if err := d.writer.Write(values); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to write CSV row")
	}
	d.rows++
	return nil
}

// Close flushes and closes the data file.
func (d *Destination) Close() error {
	if err := d.closeFile(); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to close output file").
			WithDetail("path", d.Path())
	}
	return nil
}

// Remove closes and deletes the data file. Used when nothing was exported.
func (d *Destination) Remove() error {
	_ = d.closeFile()
	if err := os.Remove(d.Path()); err != nil && !os.IsNotExist(err) {
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to remove output file")
	}
	return nil
}

// WriteManifest writes m next to the data file.
func (d *Destination) WriteManifest(m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to encode manifest")
	}
	if err := os.WriteFile(d.ManifestPath(), data, 0o644); err != nil { //nolint:gosec // manifests are read by the platform
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to write manifest").
			WithDetail("path", d.ManifestPath())
	}
	return nil
}

func (d *Destination) closeFile() error {
	if d.file == nil {
		return nil
	}

	var firstErr error
	if d.writer != nil {
		d.writer.Flush()
		firstErr = d.writer.Error()
	}
	if d.gz != nil {
		if err := d.gz.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	d.file, d.gz, d.writer = nil, nil, nil
	if firstErr != nil {
		return fmt.Errorf("closing %s: %w", d.Path(), firstErr)
	}
	return nil
}
