// Package export writes collected run series as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/buckleypaul/cellcycle/internal/sample"
)

// TimestampLayout names synthesized export files.
const TimestampLayout = "20060102_150405"

// ErrNothingToExport is returned for a measurement set with no kinds.
var ErrNothingToExport = errors.New("no measurement kinds to export")

// CSV writes one file per run. With Path empty the file is placed in Dir
// and named after the measurement type and the current time.
type CSV struct {
	Dir   string
	Path  string
	Clock clock.Clock
}

// Export writes c to the configured or synthesized path, creating parent
// directories, and returns the path written.
func (e CSV) Export(c *sample.Collector, m sample.Measurement) (string, error) {
	path := e.Path
	if path == "" {
		clk := e.Clock
		if clk == nil {
			clk = clock.New()
		}
		path = DefaultPath(e.Dir, m, clk.Now())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create export directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create export file")
	}
	if err := Write(f, c, m); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close export file")
	}
	return path, nil
}

// DefaultPath returns <dir>/<type>_<timestamp>.csv.
func DefaultPath(dir string, m sample.Measurement, t time.Time) string {
	name := fmt.Sprintf("%s_%s.csv", strings.ToLower(m.String()), t.Format(TimestampLayout))
	return filepath.Join(dir, name)
}

// Write renders the collector as a table keyed by 1-based sample number.
// Each channel contributes one column per measured kind; a channel with no
// value for a sample leaves that cell empty.
func Write(w io.Writer, c *sample.Collector, m sample.Measurement) error {
	kinds := m.Kinds()
	if len(kinds) == 0 {
		return ErrNothingToExport
	}
	channels := c.Channels()

	header := []string{"Sample"}
	series := make([][]float64, 0, len(channels)*len(kinds))
	rows := 0
	for _, ch := range channels {
		for _, k := range kinds {
			header = append(header, fmt.Sprintf("%s_%s (%s)", k, ch, k.Unit()))
			series = append(series, c.Column(k, ch))
		}
	}
	for _, k := range kinds {
		if n := c.Rows(k); n > rows {
			rows = n
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i := 0; i < rows; i++ {
		record := make([]string, 0, len(header))
		record = append(record, strconv.Itoa(i+1))
		for _, s := range series {
			if i < len(s) && !math.IsNaN(s[i]) {
				record = append(record, strconv.FormatFloat(s[i], 'f', -1, 64))
			} else {
				record = append(record, "")
			}
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write sample %d", i+1)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush")
}
