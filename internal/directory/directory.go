package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/database"
)

// ErrNotDoctor is returned by GetDoctor when the staff member exists but does
// not carry the doctor role.
var ErrNotDoctor = errors.New("staff member is not a doctor")

// Directory answers read-only questions about patients and staff.
type Directory struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	var p domain.Patient
	err := d.db.GetContext(ctx, &p, d.db.Rebind(`SELECT id, full_name, mrn FROM patients WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, database.Classify(fmt.Errorf("get patient: %w", err))
	}
	return &p, nil
}

func (d *Directory) GetStaff(ctx context.Context, id string) (*domain.Staff, error) {
	var s domain.Staff
	err := d.db.GetContext(ctx, &s, d.db.Rebind(`SELECT id, full_name, email, role FROM staff WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("staff %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, database.Classify(fmt.Errorf("get staff: %w", err))
	}
	return &s, nil
}

// GetDoctor returns the staff member only when they hold the doctor role.
func (d *Directory) GetDoctor(ctx context.Context, id string) (*domain.Staff, error) {
	s, err := d.GetStaff(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Role != domain.RoleDoctor {
		return nil, fmt.Errorf("staff %s has role %s: %w", id, s.Role, ErrNotDoctor)
	}
	return s, nil
}

// PatientNames maps patient ids to display names. Unknown ids and patients
// without a name are absent from the result.
func (d *Directory) PatientNames(ctx context.Context, ids []string) (map[string]string, error) {
	return d.names(ctx, `SELECT id, full_name FROM patients WHERE id IN (?)`, ids)
}

// StaffNames maps staff ids to display names.
func (d *Directory) StaffNames(ctx context.Context, ids []string) (map[string]string, error) {
	return d.names(ctx, `SELECT id, full_name FROM staff WHERE id IN (?)`, ids)
}

func (d *Directory) names(ctx context.Context, query string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return nil, fmt.Errorf("prepare name lookup: %w", err)
	}
	var rows []struct {
		ID       string  `db:"id"`
		FullName *string `db:"full_name"`
	}
	if err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...); err != nil {
		return nil, database.Classify(fmt.Errorf("lookup names: %w", err))
	}
	for _, row := range rows {
		if row.FullName != nil && *row.FullName != "" {
			out[row.ID] = *row.FullName
		}
	}
	return out, nil
}
