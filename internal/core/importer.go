package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/tabload/internal/logging"
	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
)

// DefaultBatchSize is the number of rows per insert when none is set.
const DefaultBatchSize = 1000

// Input is one resource's data stream.
type Input struct {
	Resource  string
	Reader    io.Reader
	Size      int64 // bytes, 0 if unknown
	Delimiter rune
}

// ImportStats counts what happened to a resource's data rows.
type ImportStats struct {
	Attempted int
	Inserted  int
	Skipped   []SkippedRow
	Warnings  []RowCoercionWarning
}

// Importer streams CSV rows into a store table.
type Importer struct {
	BatchSize    int
	BatchTimeout time.Duration // per store call, 0 for none
	Progress     ProgressFunc
}

type pendingRow struct {
	line   int
	values []any
}

// Import reads the header and data rows of in, coerces every cell with the
// definition's column coercers and inserts the rows in batches.
//
// The header must have one entry per field; names are not compared. Rows
// with the wrong field count are skipped. A failed batch is retried once row
// by row so a bad row only costs itself. Import stops at the first
// structural problem or when the store becomes unavailable; rows already
// inserted stay inserted and are counted in the returned stats.
func (im *Importer) Import(ctx context.Context, in Input, def schema.TableDefinition, st store.Store) (ImportStats, error) {
	var stats ImportStats
	log := logging.WithFields(ctx, "resource", in.Resource, "table", def.Name)

	src, counter := wrapSource(in.Reader)
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	if in.Delimiter != 0 {
		cr.Comma = in.Delimiter
	}

	cols := def.DataColumns()
	names := def.DataColumnNames()

	header, err := cr.Read()
	if err == io.EOF {
		return stats, &StructuralError{Resource: in.Resource, Line: 1, Cause: CauseHeader, Reason: "file is empty, expected a header row"}
	}
	if err != nil {
		return stats, readError(in.Resource, err)
	}
	if len(header) != len(cols) {
		return stats, &StructuralError{
			Resource: in.Resource,
			Line:     1,
			Cause:    CauseHeader,
			Reason:   fmt.Sprintf("header has %d columns, schema declares %d fields", len(header), len(cols)),
		}
	}
	for i, h := range header {
		if !strings.EqualFold(strings.TrimSpace(h), cols[i].Source) {
			log.Debug("header name differs from field name", "position", i+1, "header", h, "field", cols[i].Source)
		}
	}

	batchSize := im.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batch := make([]pendingRow, 0, batchSize)

	report := func(phase Phase) {
		if im.Progress == nil {
			return
		}
		im.Progress(Progress{
			Resource:   in.Resource,
			Table:      def.Name,
			Phase:      phase,
			Rows:       stats.Attempted,
			Inserted:   stats.Inserted,
			Skipped:    len(stats.Skipped),
			BytesRead:  counter.BytesRead(),
			BytesTotal: in.Size,
		})
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := im.flush(ctx, st, def.Name, names, batch, &stats, log)
		batch = batch[:0]
		report(PhaseImporting)
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("import %s: %w", in.Resource, err)
		}

		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, readError(in.Resource, err)
		}

		line, _ := cr.FieldPos(0)
		stats.Attempted++

		if len(record) != len(cols) {
			w := MalformedRowWarning{Line: line, Got: len(record), Want: len(cols)}
			stats.Skipped = append(stats.Skipped, SkippedRow{Line: line, Kind: SkipMalformed, Reason: w.Error()})
			log.Debug("row skipped", "line", line, "reason", w.Error())
			continue
		}

		values := make([]any, len(cols))
		for i, c := range cols {
			raw := record[i]
			if c.Coerce == nil {
				values[i] = raw
				continue
			}
			v, err := c.Coerce(raw)
			if err != nil {
				stats.Warnings = append(stats.Warnings, RowCoercionWarning{
					Line:   line,
					Field:  c.Source,
					Value:  raw,
					Reason: err.Error(),
				})
				log.Debug("value nulled", "line", line, "field", c.Source, "error", err)
				v = nil
			}
			values[i] = v
		}
		batch = append(batch, pendingRow{line: line, values: values})

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	// Completion is reported by the caller once the resource settles.
	if len(batch) == 0 {
		report(PhaseImporting)
		return stats, nil
	}
	return stats, flush()
}

// flush inserts a batch, falling back to single rows when the batch fails.
func (im *Importer) flush(ctx context.Context, st store.Store, table string, columns []string, batch []pendingRow, stats *ImportStats, log *slog.Logger) error {
	rows := make([][]any, len(batch))
	for i, r := range batch {
		rows[i] = r.values
	}

	err := im.insert(ctx, st, table, columns, rows)
	if err == nil {
		stats.Inserted += len(batch)
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("insert into %s: %w", table, ctx.Err())
	}

	if len(batch) > 1 {
		log.Debug("batch insert failed, retrying row by row", "rows", len(batch), "error", err)
	}

	for _, r := range batch {
		rowErr := err
		if len(batch) > 1 {
			rowErr = im.insert(ctx, st, table, columns, [][]any{r.values})
		}
		switch {
		case rowErr == nil:
			stats.Inserted++
		case errors.Is(rowErr, ErrStoreUnavailable):
			return rowErr
		case ctx.Err() != nil:
			return fmt.Errorf("insert into %s: %w", table, ctx.Err())
		default:
			stats.Skipped = append(stats.Skipped, SkippedRow{Line: r.line, Kind: SkipInsertFailed, Reason: rowErr.Error()})
			log.Debug("row rejected by store", "line", r.line, "error", rowErr)
		}
	}
	return nil
}

func (im *Importer) insert(ctx context.Context, st store.Store, table string, columns []string, rows [][]any) error {
	if im.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.BatchTimeout)
		defer cancel()
	}
	return st.InsertBatch(ctx, table, columns, rows)
}

func readError(resource string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &StructuralError{Resource: resource, Line: parseErr.StartLine, Cause: CauseCSV, Reason: "invalid CSV", Err: parseErr.Err}
	}
	return &StructuralError{Resource: resource, Cause: CauseFile, Reason: "read data file", Err: err}
}
