package prescription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicdesk/m/domain"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewRepository(sqlx.NewDb(mockDB, "sqlmock"), zerolog.Nop()), mock
}

func samplePrescription(id string, at time.Time) *domain.Prescription {
	return &domain.Prescription{
		ID:        id,
		PatientID: "pat-1",
		DoctorID:  "doc-1",
		CreatedAt: at,
		Lines: []domain.PrescriptionLine{
			{ItemID: "para", Name: "Paracetamol 500mg", Dosage: "1 tab TID", Quantity: 10},
			{ItemID: "gauze", Name: "Gauze", Dosage: "apply daily", Quantity: 2},
		},
	}
}

func TestCreate_LineFailureRemovesHeader(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO prescriptions`).
		WithArgs("rx-1", "pat-1", "doc-1", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO prescription_lines`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectExec(`DELETE FROM prescriptions WHERE id = \?`).
		WithArgs("rx-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), samplePrescription("rx-1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert prescription lines")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_CompensationFailureReportsBoth(t *testing.T) {
	repo, mock := newMockRepository(t)
	lineErr := errors.New("constraint failed")
	deleteErr := errors.New("connection reset")

	mock.ExpectExec(`INSERT INTO prescriptions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO prescription_lines`).WillReturnError(lineErr)
	mock.ExpectExec(`DELETE FROM prescriptions`).WillReturnError(deleteErr)

	err := repo.Create(context.Background(), samplePrescription("rx-2", time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, lineErr)
	assert.ErrorIs(t, err, deleteErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_HeaderFailureWritesNothingElse(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO prescriptions`).
		WillReturnError(errors.New(`relation "prescriptions" does not exist`))

	err := repo.Create(context.Background(), samplePrescription("rx-3", time.Now()))
	assert.ErrorIs(t, err, domain.ErrStorageNotProvisioned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RequiresLines(t *testing.T) {
	repo, mock := newMockRepository(t)

	p := samplePrescription("rx-4", time.Now())
	p.Lines = nil
	err := repo.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// seedReferences inserts the patient, doctor and items that samplePrescription
// points at.
func seedReferences(t *testing.T, db *sqlx.DB) {
	t.Helper()
	db.MustExec(`INSERT INTO patients (id, full_name) VALUES ('pat-1', 'Amina Rahman')`)
	db.MustExec(`INSERT INTO staff (id, full_name, role) VALUES ('doc-1', 'Dr. Karim', 'doctor')`)
	now := time.Now().UTC()
	db.MustExec(`INSERT INTO inventory_items (id, name, quantity, updated_at) VALUES ('para', 'Paracetamol 500mg', 100, ?)`, now)
	db.MustExec(`INSERT INTO inventory_items (id, name, quantity, updated_at) VALUES ('gauze', 'Gauze', 10, ?)`, now)
}

func TestRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	seedReferences(t, db)
	repo := NewRepository(db, zerolog.Nop())
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, samplePrescription("rx-old", base)))
	newer := samplePrescription("rx-new", base.Add(time.Hour))
	newer.Lines = newer.Lines[:1]
	require.NoError(t, repo.Create(ctx, newer))

	got, err := repo.FindByID(ctx, "rx-old")
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "para", got.Lines[0].ItemID)
	assert.Equal(t, "Gauze", got.Lines[1].Name)
	assert.True(t, base.Equal(got.CreatedAt))

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rx-new", list[0].ID)
	assert.Len(t, list[0].Lines, 1)
	assert.Len(t, list[1].Lines, 2)

	require.NoError(t, repo.Delete(ctx, "rx-old"))
	_, err = repo.FindByID(ctx, "rx-old")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var orphanLines int
	require.NoError(t, db.Get(&orphanLines, `SELECT COUNT(*) FROM prescription_lines WHERE prescription_id = ?`, "rx-old"))
	assert.Zero(t, orphanLines)

	assert.ErrorIs(t, repo.Delete(ctx, "rx-old"), domain.ErrNotFound)
}

func TestRepository_LineWithoutItem(t *testing.T) {
	db := newTestDB(t)
	seedReferences(t, db)
	repo := NewRepository(db, zerolog.Nop())
	ctx := context.Background()

	p := samplePrescription("rx-1", time.Now().UTC())
	p.Lines[1].ItemID = ""
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.FindByID(ctx, "rx-1")
	require.NoError(t, err)
	assert.Equal(t, "", got.Lines[1].ItemID)
	assert.Equal(t, "Gauze", got.Lines[1].Name)
}

func TestRepository_LineKeepsNameWhenItemRemoved(t *testing.T) {
	db := newTestDB(t)
	seedReferences(t, db)
	repo := NewRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, samplePrescription("rx-1", time.Now().UTC())))
	db.MustExec(`DELETE FROM inventory_items WHERE id = 'gauze'`)

	got, err := repo.FindByID(ctx, "rx-1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "para", got.Lines[0].ItemID)
	assert.Equal(t, "", got.Lines[1].ItemID)
	assert.Equal(t, "Gauze", got.Lines[1].Name)
}

func TestRepository_PatientRemovalCascades(t *testing.T) {
	db := newTestDB(t)
	seedReferences(t, db)
	repo := NewRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, samplePrescription("rx-1", time.Now().UTC())))
	db.MustExec(`DELETE FROM patients WHERE id = 'pat-1'`)

	_, err := repo.FindByID(ctx, "rx-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var lines int
	require.NoError(t, db.Get(&lines, `SELECT COUNT(*) FROM prescription_lines`))
	assert.Zero(t, lines)
}

func TestRepository_RejectsUnknownPatient(t *testing.T) {
	db := newTestDB(t)
	seedReferences(t, db)
	repo := NewRepository(db, zerolog.Nop())

	p := samplePrescription("rx-1", time.Now().UTC())
	p.PatientID = "pat-missing"
	require.Error(t, repo.Create(context.Background(), p))

	var headers int
	require.NoError(t, db.Get(&headers, `SELECT COUNT(*) FROM prescriptions`))
	assert.Zero(t, headers)
}
