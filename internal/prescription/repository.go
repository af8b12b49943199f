package prescription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/database"
	"clinicdesk/m/internal/metrics"
)

const headerColumns = `id, patient_id, doctor_id, notes, created_by, created_at`

type lineRow struct {
	ID             string  `db:"id"`
	PrescriptionID string  `db:"prescription_id"`
	LineNo         int     `db:"line_no"`
	ItemID         *string `db:"inventory_item_id"`
	Name           string  `db:"name"`
	Dosage         string  `db:"dosage"`
	Quantity       int64   `db:"quantity"`
}

func (r lineRow) toDomain() domain.PrescriptionLine {
	line := domain.PrescriptionLine{Name: r.Name, Dosage: r.Dosage, Quantity: r.Quantity}
	if r.ItemID != nil {
		line.ItemID = *r.ItemID
	}
	return line
}

// Repository stores prescription headers and their lines.
type Repository struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func NewRepository(db *sqlx.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "prescription_repository").Logger()}
}

// Create writes the header and then its lines as separate statements. The
// lines go in as one batch, so a failed batch leaves none behind and the
// header is deleted again.
func (r *Repository) Create(ctx context.Context, p *domain.Prescription) error {
	if len(p.Lines) == 0 {
		return domain.Invalid("a prescription needs at least one line")
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO prescriptions (`+headerColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		p.ID, p.PatientID, p.DoctorID, p.Notes, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return database.Classify(fmt.Errorf("insert prescription: %w", err))
	}

	rows := make([]lineRow, len(p.Lines))
	for i, line := range p.Lines {
		rows[i] = lineRow{
			ID:             uuid.NewString(),
			PrescriptionID: p.ID,
			LineNo:         i + 1,
			ItemID:         nullIfEmpty(line.ItemID),
			Name:           line.Name,
			Dosage:         line.Dosage,
			Quantity:       line.Quantity,
		}
	}
	_, err = r.db.NamedExecContext(ctx, `INSERT INTO prescription_lines (id, prescription_id, line_no, inventory_item_id, name, dosage, quantity)
                VALUES (:id, :prescription_id, :line_no, :inventory_item_id, :name, :dosage, :quantity)`, rows)
	if err == nil {
		return nil
	}

	lineErr := database.Classify(fmt.Errorf("insert prescription lines: %w", err))
	metrics.CompensatingDeletes.Inc()
	if _, delErr := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM prescriptions WHERE id = ?`), p.ID); delErr != nil {
		r.log.Error().Err(delErr).Str("prescription_id", p.ID).Msg("compensating delete failed, header left without lines")
		return errors.Join(lineErr, fmt.Errorf("remove prescription header: %w", delErr))
	}
	r.log.Warn().Err(err).Str("prescription_id", p.ID).Msg("prescription header removed after line insert failed")
	return lineErr
}

func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Prescription, error) {
	var p domain.Prescription
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT `+headerColumns+` FROM prescriptions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prescription %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, database.Classify(fmt.Errorf("get prescription: %w", err))
	}

	lines, err := r.linesFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p.Lines = lines[id]
	if p.Lines == nil {
		p.Lines = []domain.PrescriptionLine{}
	}
	return &p, nil
}

// List returns prescriptions newest first, each with its lines.
func (r *Repository) List(ctx context.Context, limit int) ([]domain.Prescription, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	list := []domain.Prescription{}
	err := r.db.SelectContext(ctx, &list, r.db.Rebind(`SELECT `+headerColumns+` FROM prescriptions ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("list prescriptions: %w", err))
	}
	if len(list) == 0 {
		return list, nil
	}

	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Lines = lines[list[i].ID]
		if list[i].Lines == nil {
			list[i].Lines = []domain.PrescriptionLine{}
		}
	}
	return list, nil
}

// Delete removes a prescription and its lines.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM prescription_lines WHERE prescription_id = ?`), id); err != nil {
			return database.Classify(fmt.Errorf("delete prescription lines: %w", err))
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM prescriptions WHERE id = ?`), id)
		if err != nil {
			return database.Classify(fmt.Errorf("delete prescription: %w", err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("prescription %s: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

func (r *Repository) linesFor(ctx context.Context, ids []string) (map[string][]domain.PrescriptionLine, error) {
	query, args, err := sqlx.In(`SELECT id, prescription_id, line_no, inventory_item_id, name, dosage, quantity
                FROM prescription_lines WHERE prescription_id IN (?) ORDER BY prescription_id, line_no`, ids)
	if err != nil {
		return nil, fmt.Errorf("prepare prescription lines query: %w", err)
	}
	var rows []lineRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, database.Classify(fmt.Errorf("load prescription lines: %w", err))
	}
	out := make(map[string][]domain.PrescriptionLine, len(ids))
	for _, row := range rows {
		out[row.PrescriptionID] = append(out[row.PrescriptionID], row.toDomain())
	}
	return out, nil
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
