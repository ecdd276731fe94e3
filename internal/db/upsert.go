package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "pharmacies")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns

	// Coalesce updates each column as COALESCE(EXCLUDED.col, col), so a
	// NULL incoming value never clears an existing one.
	Coalesce bool

	// ReturnKey, when set, makes the upsert return the named key column of
	// every affected row along with whether the row was newly inserted.
	ReturnKey string
}

// UpsertResult reports the outcome of a bulk upsert.
type UpsertResult struct {
	RowsAffected int64
	Inserted     []string // ReturnKey values of newly inserted rows
	Updated      []string // ReturnKey values of updated rows
}

// BulkUpsert performs a bulk upsert via a temp table and INSERT ... ON CONFLICT.
// 1. Creates a temp table with the same columns
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
// 4. Drops the temp table
// With ReturnKey set, the insert carries a RETURNING clause and the result
// splits affected keys into inserted vs updated (xmax = 0 marks fresh rows).
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	var res UpsertResult
	if len(rows) == 0 {
		return res, nil
	}

	if len(cfg.Columns) == 0 {
		return res, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return res, eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	// Create temp table with same structure as target
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return res, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	// COPY rows into temp table
	copySource := pgx.CopyFromRows(rows)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, copySource); err != nil {
		return res, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	// Build INSERT ... ON CONFLICT ... DO UPDATE
	colList := quoteAndJoin(cfg.Columns)
	conflictList := quoteAndJoin(cfg.ConflictKeys)

	var setClauses []string
	for _, col := range updateCols {
		quoted := pgx.Identifier{col}.Sanitize()
		if cfg.Coalesce {
			setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)",
				quoted, quoted, sanitizeTable(cfg.Table), quoted))
		} else {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", quoted, quoted))
		}
	}

	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		conflictList,
		strings.Join(setClauses, ", "),
	)

	if cfg.ReturnKey != "" {
		upsertSQL += fmt.Sprintf(" RETURNING %s, (xmax = 0) AS inserted",
			pgx.Identifier{cfg.ReturnKey}.Sanitize())

		upsertRows, err := tx.Query(ctx, upsertSQL)
		if err != nil {
			return res, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
		}
		for upsertRows.Next() {
			var key string
			var inserted bool
			if err := upsertRows.Scan(&key, &inserted); err != nil {
				upsertRows.Close()
				return res, eris.Wrapf(err, "db: upsert: scan returned key for %s", cfg.Table)
			}
			if inserted {
				res.Inserted = append(res.Inserted, key)
			} else {
				res.Updated = append(res.Updated, key)
			}
			res.RowsAffected++
		}
		upsertRows.Close()
		if err := upsertRows.Err(); err != nil {
			return res, eris.Wrapf(err, "db: upsert: iterate returned keys for %s", cfg.Table)
		}
	} else {
		tag, err := tx.Exec(ctx, upsertSQL)
		if err != nil {
			return res, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
		}
		res.RowsAffected = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return res, eris.Wrap(err, "db: upsert: commit tx")
	}

	return res, nil
}

// sanitizeTable handles schema-qualified table names like "fed_data.cbp_data".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
