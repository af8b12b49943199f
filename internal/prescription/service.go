package prescription

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/inventory"
	"clinicdesk/m/internal/metrics"
	"clinicdesk/m/internal/validation"
)

// unknownLineName labels a line whose item is not in the catalog when the
// prescription is written.
const unknownLineName = "Item"

type LineInput struct {
	ItemID   string `json:"item_id" validate:"required"`
	Dosage   string `json:"dosage" validate:"required,max=200"`
	Quantity int64  `json:"quantity" validate:"gt=0,lte=1000000"`
}

type IssueInput struct {
	PatientID string      `json:"patient_id" validate:"required"`
	DoctorID  string      `json:"doctor_id" validate:"required"`
	Notes     string      `json:"notes" validate:"max=500"`
	Lines     []LineInput `json:"lines" validate:"required,min=1,dive"`
}

type itemCatalog interface {
	ListItemsByIDs(ctx context.Context, ids []string) ([]domain.InventoryItem, error)
}

type stockPlanner interface {
	Consume(ctx context.Context, reqs []domain.Requirement, actor string) (inventory.Result, error)
}

type Service struct {
	repo     *Repository
	catalog  itemCatalog
	planner  stockPlanner
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo *Repository, catalog itemCatalog, planner stockPlanner, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		catalog:  catalog,
		planner:  planner,
		validate: validation.New(),
		log:      log.With().Str("component", "prescription_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Issue consumes the stock named by the lines and records the prescription.
// Patient and doctor references are expected to be checked by the caller.
//
// Stock consumed before a failed write is not restored; the failure is logged
// with the consumed requirements so the ledger can be corrected by hand.
func (s *Service) Issue(ctx context.Context, in IssueInput, actor string) (*domain.Prescription, error) {
	in = normalize(in)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, validationError(err)
	}

	ids := make([]string, 0, len(in.Lines))
	reqs := make([]domain.Requirement, len(in.Lines))
	for i, line := range in.Lines {
		ids = append(ids, line.ItemID)
		reqs[i] = domain.Requirement{ItemID: line.ItemID, Quantity: line.Quantity}
	}

	items, err := s.catalog.ListItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(items))
	for _, item := range items {
		names[item.ID] = item.Name
	}

	res, err := s.planner.Consume(ctx, reqs, actor)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, &domain.InsufficientStockError{Shortages: res.Shortages}
	}

	p := &domain.Prescription{
		ID:        uuid.NewString(),
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		Notes:     nullIfEmpty(in.Notes),
		CreatedBy: nullIfEmpty(actor),
		CreatedAt: s.now(),
		Lines:     make([]domain.PrescriptionLine, len(in.Lines)),
	}
	for i, line := range in.Lines {
		name, ok := names[line.ItemID]
		if !ok {
			name = unknownLineName
		}
		p.Lines[i] = domain.PrescriptionLine{ItemID: line.ItemID, Name: name, Dosage: line.Dosage, Quantity: line.Quantity}
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.log.Error().Err(err).
			Str("patient_id", p.PatientID).
			Interface("consumed", reqs).
			Msg("prescription not saved after inventory was consumed")
		return nil, err
	}

	metrics.PrescriptionsIssued.Inc()
	s.log.Info().Str("prescription_id", p.ID).Int("lines", len(p.Lines)).Msg("prescription issued")
	return p, nil
}

// Validate reports the first problem with in, without touching storage.
func (s *Service) Validate(in IssueInput) error {
	if err := s.validate.Struct(normalize(in)); err != nil {
		return validationError(err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Prescription, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]domain.Prescription, error) {
	return s.repo.List(ctx, limit)
}

// Delete removes the prescription. Stock consumed when it was issued stays
// consumed.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("prescription_id", id).Msg("prescription deleted")
	return nil
}

func normalize(in IssueInput) IssueInput {
	in.PatientID = strings.TrimSpace(in.PatientID)
	in.DoctorID = strings.TrimSpace(in.DoctorID)
	in.Notes = strings.TrimSpace(in.Notes)
	lines := make([]LineInput, len(in.Lines))
	for i, line := range in.Lines {
		lines[i] = LineInput{
			ItemID:   strings.TrimSpace(line.ItemID),
			Dosage:   strings.TrimSpace(line.Dosage),
			Quantity: line.Quantity,
		}
	}
	if in.Lines != nil {
		in.Lines = lines
	}
	return in
}

func validationError(err error) error {
	if fe, ok := validation.First(err); ok && fe.StructField() == "Lines" {
		return domain.Invalid("at least one line is required")
	}
	return validation.Error(err)
}
