package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/cellcycle/internal/sample"
)

func collector(t *testing.T) *sample.Collector {
	t.Helper()
	c := sample.NewCollector([]string{"A", "B"})
	for i, resp := range []string{"3.70,3.80", "3.71,3.81", "3.72,3.82"} {
		require.True(t, c.RecordResponse(sample.Voltage, i+1, resp).Clean())
	}
	for i, resp := range []string{"1.0,0.9", "1.1,0.8", "1.2,0.7"} {
		require.True(t, c.RecordResponse(sample.Current, i+1, resp).Clean())
	}
	return c
}

func TestWriteBoth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, collector(t), sample.MeasureBoth))

	want := "Sample,Voltage_A (V),Current_A (A),Voltage_B (V),Current_B (A)\n" +
		"1,3.7,1,3.8,0.9\n" +
		"2,3.71,1.1,3.81,0.8\n" +
		"3,3.72,1.2,3.82,0.7\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteSingleKind(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, collector(t), sample.MeasureCurrent))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Equal(t, "Sample,Current_A (A),Current_B (A)", string(lines[0]))
}

func TestWriteLeavesGapsEmpty(t *testing.T) {
	c := sample.NewCollector([]string{"A", "B"})
	c.RecordResponse(sample.Voltage, 1, "1,2")
	c.RecordResponse(sample.Voltage, 2, "3")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, c, sample.MeasureVoltage))
	assert.Equal(t, "Sample,Voltage_A (V),Voltage_B (V)\n1,1,2\n2,3,\n", buf.String())
}

func TestWriteKeepsMidRunGapInItsRow(t *testing.T) {
	c := sample.NewCollector([]string{"A", "B"})
	c.RecordResponse(sample.Voltage, 1, "1.0,bad")
	c.RecordResponse(sample.Voltage, 2, "2.0,20")
	c.RecordResponse(sample.Voltage, 3, "3.0,30")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, c, sample.MeasureVoltage))
	assert.Equal(t, "Sample,Voltage_A (V),Voltage_B (V)\n1,1,\n2,2,20\n3,3,30\n", buf.String())
}

func TestWriteKeepsRowForSampleWithNoValues(t *testing.T) {
	c := sample.NewCollector([]string{"A"})
	c.RecordResponse(sample.Voltage, 1, "1")
	c.Mark(sample.Voltage, 2)
	c.RecordResponse(sample.Voltage, 3, "3")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, c, sample.MeasureVoltage))
	assert.Equal(t, "Sample,Voltage_A (V)\n1,1\n2,\n3,3\n", buf.String())
}

func TestWriteNothing(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, collector(t), sample.MeasureNone), ErrNothingToExport)
}

func TestExportSynthesizesPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "results")
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC))

	path, err := CSV{Dir: dir, Clock: clk}.Export(collector(t), sample.MeasureBoth)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "both_20240309_140506.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sample,Voltage_A (V)")
}

func TestExportExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "run.csv")

	got, err := CSV{Path: path}.Export(collector(t), sample.MeasureVoltage)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
