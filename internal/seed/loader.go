package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/database"
)

// Files expected under the seed directory.
const (
	InventoryFile = "inventory.csv"
	StaffFile     = "staff.csv"
	PatientsFile  = "patients.csv"
)

// Loader ingests development data from CSV files. Rows whose id already
// exists are skipped, so loading twice is harmless.
type Loader struct {
	db  *sqlx.DB
	log zerolog.Logger
	now func() time.Time
}

func NewLoader(db *sqlx.DB, log zerolog.Logger) *Loader {
	return &Loader{
		db:  db,
		log: log.With().Str("component", "seed").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// LoadDir loads every known file present in dir. Missing files are skipped.
func (l *Loader) LoadDir(ctx context.Context, dir string) error {
	steps := []struct {
		file string
		load func(context.Context, string) (int, error)
	}{
		{StaffFile, l.LoadStaff},
		{PatientsFile, l.LoadPatients},
		{InventoryFile, l.LoadInventory},
	}
	for _, step := range steps {
		path := filepath.Join(dir, step.file)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			l.log.Debug().Str("path", path).Msg("seed file not found, skipping")
			continue
		}
		if _, err := step.load(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// LoadInventory reads id,name,description,unit,quantity,low_stock_threshold.
// An empty id gets a generated one.
func (l *Loader) LoadInventory(ctx context.Context, path string) (int, error) {
	now := l.now()
	return l.load(ctx, path, []string{"name"},
		`INSERT INTO inventory_items (id, name, description, unit, quantity, low_stock_threshold, updated_by, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, NULL, ?) ON CONFLICT (id) DO NOTHING`,
		func(r row) ([]any, error) {
			qty, err := r.integer("quantity")
			if err != nil {
				return nil, err
			}
			threshold, err := r.integer("low_stock_threshold")
			if err != nil {
				return nil, err
			}
			return []any{r.idOrNew(), r.get("name"), r.optional("description"), r.optional("unit"), max(0, qty), max(0, threshold), now}, nil
		})
}

// LoadStaff reads id,full_name,email,role.
func (l *Loader) LoadStaff(ctx context.Context, path string) (int, error) {
	return l.load(ctx, path, []string{"id", "role"},
		`INSERT INTO staff (id, full_name, email, role) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		func(r row) ([]any, error) {
			role := strings.ToLower(r.get("role"))
			if !domain.IsStaffRole(role) {
				return nil, fmt.Errorf("unknown role %q", role)
			}
			return []any{r.get("id"), r.optional("full_name"), r.optional("email"), role}, nil
		})
}

// LoadPatients reads id,full_name,mrn.
func (l *Loader) LoadPatients(ctx context.Context, path string) (int, error) {
	return l.load(ctx, path, []string{"id"},
		`INSERT INTO patients (id, full_name, mrn) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		func(r row) ([]any, error) {
			return []any{r.get("id"), r.optional("full_name"), r.optional("mrn")}, nil
		})
}

func (l *Loader) load(ctx context.Context, path string, required []string, query string, args func(row) ([]any, error)) (int, error) {
	log := l.log.With().Str("path", path).Logger()

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read header of %s: %w", path, err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	rows := 0
	err = database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(query))
		if err != nil {
			return database.Classify(fmt.Errorf("prepare seed insert: %w", err))
		}
		defer stmt.Close()

		for line := 2; ; line++ {
			record, err := reader.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				log.Warn().Err(err).Int("line", line).Msg("unable to read seed row")
				continue
			}
			r := row{columns: columns, record: record}
			if missing := r.missing(required); missing != "" {
				log.Warn().Int("line", line).Str("column", missing).Msg("seed row missing required value")
				continue
			}
			values, err := args(r)
			if err != nil {
				log.Warn().Err(err).Int("line", line).Msg("skipping seed row")
				continue
			}
			res, err := stmt.ExecContext(ctx, values...)
			if err != nil {
				return database.Classify(fmt.Errorf("insert seed row at line %d: %w", line, err))
			}
			if n, _ := res.RowsAffected(); n > 0 {
				rows++
			}
		}
	})
	if err != nil {
		return 0, err
	}

	log.Info().Int("rows", rows).Msg("seed file loaded")
	return rows, nil
}

type row struct {
	columns map[string]int
	record  []string
}

func (r row) get(name string) string {
	i, ok := r.columns[name]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func (r row) optional(name string) *string {
	v := r.get(name)
	if v == "" {
		return nil
	}
	return &v
}

func (r row) integer(name string) (int64, error) {
	v := r.get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return n, nil
}

func (r row) idOrNew() string {
	if id := r.get("id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (r row) missing(required []string) string {
	for _, name := range required {
		if r.get(name) == "" {
			return name
		}
	}
	return ""
}
