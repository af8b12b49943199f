package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Statements is the schema required by the clinic back office. Every
// statement is idempotent and valid for both SQLite and PostgreSQL.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS staff (
            id TEXT PRIMARY KEY,
            full_name TEXT,
            email TEXT UNIQUE,
            role TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS patients (
            id TEXT PRIMARY KEY,
            full_name TEXT,
            mrn TEXT UNIQUE
        );`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT,
            unit TEXT,
            quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
            low_stock_threshold INTEGER NOT NULL DEFAULT 0 CHECK (low_stock_threshold >= 0),
            updated_by TEXT,
            updated_at TIMESTAMP NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS inventory_items_name_idx ON inventory_items (name);`,
	`CREATE TABLE IF NOT EXISTS inventory_adjustments (
            id TEXT PRIMARY KEY,
            item_id TEXT NOT NULL REFERENCES inventory_items(id) ON DELETE CASCADE,
            delta INTEGER NOT NULL,
            note TEXT,
            created_by TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS inventory_adjustments_item_idx ON inventory_adjustments (item_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
            id TEXT PRIMARY KEY,
            patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
            doctor_id TEXT NOT NULL REFERENCES staff(id),
            notes TEXT,
            created_by TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS prescription_lines (
            id TEXT PRIMARY KEY,
            prescription_id TEXT NOT NULL REFERENCES prescriptions(id) ON DELETE CASCADE,
            line_no INTEGER NOT NULL,
            inventory_item_id TEXT REFERENCES inventory_items(id) ON DELETE SET NULL,
            name TEXT NOT NULL,
            dosage TEXT NOT NULL,
            quantity INTEGER NOT NULL CHECK (quantity > 0)
        );`,
	`CREATE INDEX IF NOT EXISTS prescription_lines_prescription_idx ON prescription_lines (prescription_id, line_no);`,
}

// Run creates the database schema, returning the first failing statement's error.
func Run(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range Statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
