package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAdoptLegacy, downAdoptLegacy)
}

// Databases created by the earlier dispatch service predate the version table.
// This step normalises their column names and types once, so that every later
// migration and query sees a single schema. On a fresh database it is a no-op.

type columnRename struct {
	table, from, to string
}

var legacyRenames = []columnRename{
	{"agents", "id", "agent_id"},
	{"agents", "is_rhino_running", "is_app_running"},
	{"heartbeats", "is_rhino_running", "is_app_running"},
	{"heartbeats", "is_rhino_foreground", "is_app_foreground"},
	{"heartbeats", "rhino_version", "app_version"},
	{"events", "ts", "created_at"},
	{"assignments", "ts", "created_at"},
}

type columnRetype struct {
	table, column, typ, using string
}

var legacyRetypes = []columnRetype{
	{"orders", "size", "double precision", "NULLIF(trim(size), '')::double precision"},
	{"suggestions", "size", "bigint", "COALESCE(NULLIF(trim(size), ''), '0')::bigint"},
	{"events", "meta", "jsonb", "CASE WHEN meta ~ '^\\s*\\{' THEN meta::jsonb ELSE jsonb_build_object('raw', meta) END"},
}

func upAdoptLegacy(ctx context.Context, tx *sql.Tx) error {
	for _, r := range legacyRenames {
		hasFrom, err := hasColumn(ctx, tx, r.table, r.from)
		if err != nil {
			return err
		}
		if !hasFrom {
			continue
		}
		hasTo, err := hasColumn(ctx, tx, r.table, r.to)
		if err != nil {
			return err
		}
		if hasTo {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %q RENAME COLUMN %q TO %q`, r.table, r.from, r.to)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rename %s.%s: %w", r.table, r.from, err)
		}
	}

	for _, r := range legacyRetypes {
		typ, err := columnType(ctx, tx, r.table, r.column)
		if err != nil {
			return err
		}
		if typ != "text" && typ != "character varying" {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %q ALTER COLUMN %q TYPE %s USING %s`, r.table, r.column, r.typ, r.using)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("retype %s.%s: %w", r.table, r.column, err)
		}
	}
	return nil
}

func downAdoptLegacy(context.Context, *sql.Tx) error {
	return nil
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	typ, err := columnType(ctx, tx, table, column)
	return typ != "", err
}

func columnType(ctx context.Context, tx *sql.Tx, table, column string) (string, error) {
	var typ string
	err := tx.QueryRowContext(ctx, `
		SELECT data_type FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`,
		table, column).Scan(&typ)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	return typ, nil
}
