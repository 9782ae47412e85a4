package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"go.hackfix.me/multimig/db"
	"go.hackfix.me/multimig/migration"
)

type historyRow struct {
	info           migration.Info
	contextKey     string
	model          string
	productVersion string
}

// ensureHistoryTable creates the history table if it doesn't exist.
func (e *Engine) ensureHistoryTable(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS [%s] (
		MigrationId TEXT NOT NULL,
		ContextKey TEXT NOT NULL,
		Model TEXT NOT NULL,
		ProductVersion TEXT NOT NULL,
		PRIMARY KEY (MigrationId, ContextKey))`, HistoryTable))
	if err != nil {
		return fmt.Errorf("failed creating history table: %w", err)
	}
	return nil
}

// history returns the history records of this source, in creation order.
func (e *Engine) history(ctx context.Context) ([]historyRow, error) {
	if err := e.ensureHistoryTable(ctx); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT MigrationId, Model, ProductVersion FROM [%s] WHERE ContextKey = ?`,
		HistoryTable), e.cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed querying history table: %w", err)
	}
	defer rows.Close()

	var history []historyRow
	for rows.Next() {
		r := historyRow{contextKey: e.cfg.Name}
		var id string
		if err = rows.Scan(&id, &r.model, &r.productVersion); err != nil {
			return nil, fmt.Errorf("failed scanning history record: %w", err)
		}
		if r.info, err = migration.Parse(id, nil); err != nil {
			return nil, err //nolint:wrapcheck // Already descriptive.
		}
		history = append(history, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading history table: %w", err)
	}

	slices.SortStableFunc(history, func(a, b historyRow) int {
		return migration.Compare(a.info, b.info)
	})

	return history, nil
}

// apply runs the statements of a migration and records it in the history
// table, in a single transaction.
func (e *Engine) apply(ctx context.Context, id, stmts string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}

	if strings.TrimSpace(stmts) != "" {
		if _, err = tx.ExecContext(ctx, stmts); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed applying migration %s: %w", id, err)
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO [%s] (MigrationId, ContextKey, Model, ProductVersion) VALUES (?, ?, ?, ?)`,
		HistoryTable), id, e.cfg.Name, modelHash(stmts), ProductVersion)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed recording migration %s: %w", id,
			db.Err(HistoryTable, e.cfg.Name+"/"+id, err))
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed committing migration %s: %w", id, err)
	}

	return nil
}

// applyAuto applies the model script as an automatic migration, unless it
// matches the model of the last automatic migration.
func (e *Engine) applyAuto(ctx context.Context) error {
	if strings.TrimSpace(e.model) == "" {
		return nil
	}

	history, err := e.history(ctx)
	if err != nil {
		return err
	}

	hash := modelHash(e.model)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].info.Name != autoMigrationName {
			continue
		}
		if history[i].model == hash {
			e.logger.Debug("model unchanged, skipping automatic migration")
			return nil
		}
		break
	}

	id := migration.FormatID(e.timeNow(), autoMigrationName)
	e.logger.Info("applying automatic migration", "migration", id)

	return e.apply(ctx, id, e.model)
}

// writeHistoryInsert writes the two-line statement inserting r into the
// history table of schema.
func writeHistoryInsert(b *strings.Builder, schema string, r historyRow) {
	fmt.Fprintf(b, "INSERT INTO [%s].[%s] ([MigrationId], [ContextKey], [Model], [ProductVersion])\n",
		schema, HistoryTable)
	fmt.Fprintf(b, "VALUES (%s, %s, %s, %s);\n",
		quote(r.info.FullName), quote(r.contextKey), quote(r.model), quote(r.productVersion))
}

// modelHash returns the snapshot of a migration recorded in the history table.
func modelHash(stmts string) string {
	sum := blake2b.Sum256([]byte(stmts))
	return base58.Encode(sum[:])
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
