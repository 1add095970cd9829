package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"bleak/results"
)

// MetricRow is one evaluate-fixes CSV row: the snapshotReport merge of
// {metric, leaksFixed, iterationCount} and a HeapMetrics snapshot (spec.md
// §4.7's snapshotReport).
type MetricRow struct {
	Metric         string
	LeaksFixed     int
	IterationCount int
	Metrics        results.HeapMetrics
}

func (r MetricRow) columns() map[string]string {
	return map[string]string{
		"metric":         r.Metric,
		"leaksFixed":     strconv.Itoa(r.LeaksFixed),
		"iterationCount": strconv.Itoa(r.IterationCount),
		"nodes":          strconv.Itoa(r.Metrics.Nodes),
		"edges":          strconv.Itoa(r.Metrics.Edges),
		"strings":        strconv.Itoa(r.Metrics.Strings),
		"totalBytes":     strconv.Itoa(r.Metrics.TotalBytes),
	}
}

func columnNames() []string {
	cols := []string{"metric", "leaksFixed", "iterationCount", "nodes", "edges", "strings", "totalBytes"}
	sort.Strings(cols)
	return cols
}

// CSVWriter appends MetricRow lines to an underlying log(line) sink (spec.md
// §4.7), writing the header exactly once across the writer's lifetime and
// buffering rows per attempt so a crash mid-attempt (caught by the
// crash-resilient wrapper) can discard them without corrupting the output
// (spec.md §4.7 "row emission is buffered... discarded so retries do not
// duplicate rows").
type CSVWriter struct {
	mu            sync.Mutex
	log           func(line string) error
	headerWritten bool
	columns       []string
}

// NewCSVWriter returns a CSVWriter appending via log. If headerAlreadyWritten
// is true (spec.md §4.7 "resume... header is considered already written and
// is suppressed"), the header is never emitted.
func NewCSVWriter(log func(line string) error, headerAlreadyWritten bool) *CSVWriter {
	return &CSVWriter{log: log, headerWritten: headerAlreadyWritten, columns: columnNames()}
}

// Attempt returns a fresh Buffer for one execute() attempt. Call Flush on it
// only after the attempt succeeds; a failed attempt's Buffer should simply
// be discarded.
func (w *CSVWriter) Attempt() *Buffer {
	return &Buffer{writer: w}
}

// Buffer accumulates rows for one attempt.
type Buffer struct {
	writer *CSVWriter
	rows   []MetricRow
}

// Add appends row to the buffer.
func (b *Buffer) Add(row MetricRow) { b.rows = append(b.rows, row) }

// Flush writes the header (if not already written, exactly once) and every
// buffered row to the writer's log sink, in order.
func (b *Buffer) Flush() error {
	b.writer.mu.Lock()
	defer b.writer.mu.Unlock()

	if !b.writer.headerWritten {
		if err := b.writer.writeLine(b.writer.columns); err != nil {
			return err
		}
		b.writer.headerWritten = true
	}
	for _, row := range b.rows {
		cols := row.columns()
		values := make([]string, len(b.writer.columns))
		for i, name := range b.writer.columns {
			values[i] = cols[name]
		}
		if err := b.writer.writeLine(values); err != nil {
			return err
		}
	}
	return nil
}

func (w *CSVWriter) writeLine(fields []string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(fields); err != nil {
		return fmt.Errorf("report: encode csv row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return w.log(buf.String())
}

// LineAppender returns a log(line) func that appends to w, always ensuring a
// trailing newline (spec.md §6 "log(line) which must append a newline").
func LineAppender(w io.Writer) func(line string) error {
	return func(line string) error {
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		_, err := io.WriteString(w, line)
		return err
	}
}
