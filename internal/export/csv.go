// Package export writes reconciled tables to files and terminals.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/reconciliation"
)

// utf8BOM lets spreadsheet applications detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FileName is the output file name of a collection.
func FileName(team string, season int, league string) string {
	return fmt.Sprintf("stats_%s_%d_%s.csv", team, season, league)
}

// WriteCSV writes the header and every row of table to w, prefixed with a
// UTF-8 byte order mark.
func WriteCSV(w io.Writer, table *reconciliation.Table) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return errors.Wrap(err, "write BOM")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header); err != nil {
		return errors.Wrap(err, "write header")
	}
	if err := cw.WriteAll(table.Records()); err != nil {
		return errors.Wrap(err, "write rows")
	}
	return nil
}

// CSVSink writes each result to stats_{team}_{season}_{league}.csv under its
// directory, creating the directory if needed.
type CSVSink struct {
	dir    string
	logger *logging.Logger
}

// NewCSVSink creates a sink writing into dir. A spec with its own OutputDir
// overrides dir.
func NewCSVSink(dir string, logger *logging.Logger) *CSVSink {
	return &CSVSink{dir: dir, logger: logging.OrDefault(logger).Named("export")}
}

// Write implements collector.Sink and records the file path on the result.
func (s *CSVSink) Write(_ context.Context, res *collector.Result) error {
	dir := s.dir
	if res.Spec.OutputDir != "" {
		dir = res.Spec.OutputDir
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create output directory %s", dir)
	}

	path := filepath.Join(dir, FileName(res.Spec.Team, res.Spec.Season, string(res.Spec.League)))
	if err := writeFile(path, res.Table); err != nil {
		return err
	}

	res.OutputPath = path
	s.logger.Info("saved table", "path", path, "players", res.Table.Len())
	return nil
}

func writeFile(path string, table *reconciliation.Table) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stats-*.csv")
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = WriteCSV(buf, table); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err = buf.Flush(); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename %s", path)
	}
	return nil
}

var _ collector.Sink = (*CSVSink)(nil)
