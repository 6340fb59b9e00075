// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/database/query"
	"github.com/chronorec/chronorec/internal/metrics"
	"github.com/chronorec/chronorec/internal/schema"
)

// sinkTimeout bounds each staging or copy statement.
const sinkTimeout = 30 * time.Second

// PredictionSink stages prediction rows in DuckDB and copies them out as
// one parquet partition on Close. Not safe for concurrent use; the
// evaluation collector owns one instance per pass.
type PredictionSink struct {
	db    *database.DB
	path  string
	table string
	rs    RowSchema

	open   bool
	closed bool
	seq    int64

	insertPrefix string
}

// NewPredictionSink prepares a sink writing to the given parquet path.
// Nothing touches the database or filesystem until Open.
func NewPredictionSink(db *database.DB, path string) *PredictionSink {
	return &PredictionSink{
		db:    db,
		path:  path,
		table: "pred_stage_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// PartitionName renders the parquet file name for one evaluation index,
// e.g. preds_0003.parquet.
func PartitionName(evalIndex int) string {
	return fmt.Sprintf("preds_%04d.parquet", evalIndex)
}

// Open binds the column schema, creates the staging table, and makes sure
// the output directory exists.
func (s *PredictionSink) Open(rs RowSchema) error {
	switch {
	case s.closed:
		return ErrClosed
	case s.open:
		return ErrAlreadyOpen
	}
	if err := rs.validate(); err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("sink: create output directory %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	cols := s.columns(rs)
	ddl := make([]string, len(cols))
	for i, c := range cols {
		ddl[i] = c.ident + " " + c.sqlType
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", query.Ident(s.table), strings.Join(ddl, ", "))
	if _, err := s.db.Conn().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sink: create staging table: %w", err)
	}

	idents := make([]string, len(cols))
	for i, c := range cols {
		idents[i] = c.ident
	}
	s.insertPrefix = fmt.Sprintf("INSERT INTO %s (%s) VALUES ",
		query.Ident(s.table), strings.Join(idents, ", "))

	s.rs = rs
	s.open = true
	return nil
}

type column struct {
	ident   string
	sqlType string
}

// columns renders the staging DDL columns in persisted order. seq exists
// only to keep COPY output in append order; it is excluded from the
// partition.
func (s *PredictionSink) columns(rs RowSchema) []column {
	cols := []column{
		{ident: query.Ident("seq"), sqlType: "BIGINT NOT NULL"},
		{ident: query.Ident("dataset_type"), sqlType: "VARCHAR NOT NULL"},
	}
	for _, key := range rs.MetricKeys {
		cols = append(cols, column{ident: query.Ident("metric_" + key), sqlType: "DOUBLE"})
	}
	cols = append(cols,
		column{ident: query.Ident("relevant_item_ids"), sqlType: "BIGINT[]"},
		column{ident: query.Ident("rec_item_ids"), sqlType: "BIGINT[]"},
		column{ident: query.Ident("rec_item_scores"), sqlType: "DOUBLE[]"},
	)
	for _, f := range rs.Meta {
		sqlType := "BIGINT"
		if f.Dtype == schema.DtypeFloat64 {
			sqlType = "DOUBLE"
		}
		cols = append(cols, column{ident: query.Ident("metadata_" + f.Name), sqlType: sqlType})
	}
	return cols
}

// Append stages rows in order. Rows must match the bound schema exactly.
func (s *PredictionSink) Append(rows []Row) error {
	switch {
	case s.closed:
		return ErrClosed
	case !s.open:
		return ErrNotOpen
	}
	if len(rows) == 0 {
		return nil
	}

	for i, row := range rows {
		if err := s.checkRow(row); err != nil {
			return fmt.Errorf("sink: row %d: %w", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sink: begin append: %w", err)
	}

	for _, row := range rows {
		s.seq++
		stmt, args := s.insertRow(s.seq, row)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sink: stage row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sink: commit append: %w", err)
	}

	metrics.SinkRowsWritten.WithLabelValues("predictions").Add(float64(len(rows)))
	return nil
}

func (s *PredictionSink) checkRow(row Row) error {
	if len(row.Metrics) != len(s.rs.MetricKeys) {
		return fmt.Errorf("%d metric values for %d metric columns", len(row.Metrics), len(s.rs.MetricKeys))
	}
	if len(row.Meta) != len(s.rs.Meta) {
		return fmt.Errorf("%d metadata values for %d metadata columns", len(row.Meta), len(s.rs.Meta))
	}
	if len(row.RecItemIDs) != len(row.RecScores) {
		return fmt.Errorf("%d rec ids for %d rec scores", len(row.RecItemIDs), len(row.RecScores))
	}
	return nil
}

// insertRow renders one staged row. Scalars bind through placeholders;
// the three list columns are rendered as DuckDB list literals because the
// driver cannot bind list parameters.
func (s *PredictionSink) insertRow(seq int64, row Row) (string, []any) {
	var tuple strings.Builder
	args := make([]any, 0, 2+len(row.Metrics)+len(row.Meta))

	tuple.WriteString("(?, ?")
	args = append(args, seq, row.DatasetType)

	for _, v := range row.Metrics {
		tuple.WriteString(", ?")
		args = append(args, v)
	}

	tuple.WriteString(", [")
	tuple.WriteString(strconv.FormatInt(row.RelevantItem, 10))
	tuple.WriteString("], ")
	tuple.WriteString(intList(row.RecItemIDs))
	tuple.WriteString(", ")
	tuple.WriteString(floatList(row.RecScores))

	for i, f := range s.rs.Meta {
		tuple.WriteString(", ?")
		if f.Dtype == schema.DtypeFloat64 {
			args = append(args, row.Meta[i].Float)
		} else {
			args = append(args, row.Meta[i].Int)
		}
	}
	tuple.WriteString(")")

	return s.insertPrefix + tuple.String(), args
}

// Close copies the staged rows to the parquet partition and drops the
// staging table. The instance is unusable afterwards, success or not.
func (s *PredictionSink) Close() error {
	switch {
	case s.closed:
		return ErrClosed
	case !s.open:
		return ErrNotOpen
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	defer func() {
		// Best effort; an orphaned staging table only wastes memory.
		_, _ = s.db.Conn().ExecContext(ctx, "DROP TABLE IF EXISTS "+query.Ident(s.table))
	}()

	stmt := fmt.Sprintf(`
		COPY (
			SELECT * EXCLUDE (seq) FROM %s ORDER BY seq
		) TO ? (FORMAT PARQUET, COMPRESSION 'ZSTD', ROW_GROUP_SIZE 100000)`,
		query.Ident(s.table))

	if _, err := s.db.Conn().ExecContext(ctx, stmt, s.path); err != nil {
		return fmt.Errorf("sink: copy partition %s: %w", s.path, err)
	}
	return nil
}

func intList(vals []int64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte(']')
	return b.String()
}

func floatList(vals []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

var _ Sink = (*PredictionSink)(nil)
