// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package query

import "strings"

// Ident renders a schema-derived name as a quoted SQL identifier.
// Embedded double quotes are doubled, so the result is safe to splice
// into a statement regardless of what the schema file contains.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Literal renders s as a single-quoted SQL string literal with embedded
// single quotes doubled. Used for file paths passed to table functions;
// everything else binds through placeholders.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// PathList renders paths as a DuckDB list literal, e.g. ['a', 'b'],
// for read_parquet scans across several partition files.
func PathList(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = Literal(p)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Placeholders returns n comma-separated ? markers for IN clauses and
// multi-column inserts. Returns "" for n <= 0.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(3 * n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	return b.String()
}
