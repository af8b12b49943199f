package database

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"

	"clinicdesk/m/domain"
)

var missingSchema = regexp.MustCompile(`(?i)no such table|no such column|does not exist`)

// IsSchemaMissing reports whether err was caused by a table or column that
// has not been created yet.
func IsSchemaMissing(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// undefined_table, undefined_column
		return pgErr.Code == "42P01" || pgErr.Code == "42703"
	}
	return missingSchema.MatchString(err.Error())
}

// Classify tags schema errors with domain.ErrStorageNotProvisioned so callers
// can tell an unmigrated store apart from a missing record.
func Classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrStorageNotProvisioned) {
		return err
	}
	if IsSchemaMissing(err) {
		return fmt.Errorf("%w: %w", domain.ErrStorageNotProvisioned, err)
	}
	return err
}
