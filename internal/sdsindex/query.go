package sdsindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// QueryResult is the outcome of a diagnostic pass-through query.
type QueryResult struct {
	// Tabular is true when the statement produced a result set; Columns and
	// Rows are populated. Otherwise Message describes the effect.
	Tabular bool
	Message string
	Columns []string
	Rows    [][]string
}

// ExecuteQuery runs an arbitrary SQL statement against the index. Intended
// for operator tooling only; the engine itself never calls it.
func (ix *Index) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	res := &QueryResult{}

	trimmed := strings.TrimSpace(strings.ToUpper(query))
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "PRAGMA") ||
		strings.HasPrefix(trimmed, "EXPLAIN") || strings.HasPrefix(trimmed, "WITH") {
		err := ix.withRetry(ctx, func(ctx context.Context) error {
			res.Columns, res.Rows = nil, nil
			rows, err := ix.db.QueryContext(ctx, query)
			if err != nil {
				return err
			}
			defer rows.Close()
			return scanAll(rows, res)
		})
		if err != nil {
			return nil, err
		}
		res.Tabular = true
		res.Message = fmt.Sprintf("%d row(s)", len(res.Rows))
		return res, nil
	}

	err := ix.withRetry(ctx, func(ctx context.Context) error {
		r, err := ix.db.ExecContext(ctx, query)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		res.Message = fmt.Sprintf("%d row(s) affected", n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func scanAll(rows *sql.Rows, res *QueryResult) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	res.Columns = cols

	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "NULL"
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return rows.Err()
}
