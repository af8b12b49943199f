package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/config"
	"clinicdesk/m/internal/database"
	"clinicdesk/m/internal/metrics"
)

const (
	unknownItemName = "Unknown item"

	maxAtomicAttempts = 3
)

var (
	errRejected     = errors.New("consumption rejected")
	errStockChanged = errors.New("stock changed during consumption")
)

type Result struct {
	Shortages []domain.Shortage `json:"shortages"`
}

// OK reports whether the batch was consumed.
func (r Result) OK() bool {
	return len(r.Shortages) == 0
}

// Planner validates a batch of withdrawals against the ledger and applies
// them all or none.
//
// In sequential mode the check and each withdrawal are separate statements,
// so two callers can pass the check against the same stock level, and a
// failure part-way through the commit leaves earlier withdrawals applied.
// Atomic mode runs the whole batch in one transaction with guarded
// decrements and retries when a concurrent writer wins.
type Planner struct {
	db     *sqlx.DB
	ledger *Ledger
	mode   string
	log    zerolog.Logger
}

func NewPlanner(db *sqlx.DB, ledger *Ledger, mode string, log zerolog.Logger) *Planner {
	if mode != config.ConsistencyAtomic {
		mode = config.ConsistencySequential
	}
	return &Planner{
		db:     db,
		ledger: ledger,
		mode:   mode,
		log:    log.With().Str("component", "planner").Str("mode", mode).Logger(),
	}
}

// Aggregate validates requirements and sums repeated item ids, keeping the
// order in which items first appear. The total for one item may not exceed
// domain.MaxQuantity.
func Aggregate(reqs []domain.Requirement) ([]domain.Requirement, error) {
	totals := make([]domain.Requirement, 0, len(reqs))
	index := make(map[string]int, len(reqs))
	for _, req := range reqs {
		id := strings.TrimSpace(req.ItemID)
		if id == "" {
			return nil, domain.Invalid("item_id is required for each requirement")
		}
		if req.Quantity <= 0 {
			return nil, domain.Invalid("quantity for item %s must be greater than zero", id)
		}
		i, ok := index[id]
		if !ok {
			i = len(totals)
			index[id] = i
			totals = append(totals, domain.Requirement{ItemID: id})
		}
		// totals[i].Quantity never exceeds MaxQuantity, so the subtraction cannot overflow.
		if req.Quantity > domain.MaxQuantity-totals[i].Quantity {
			return nil, domain.Invalid("quantity for item %s must not exceed %d in total", id, domain.MaxQuantity)
		}
		totals[i].Quantity += req.Quantity
	}
	return totals, nil
}

// Consume checks every requirement against current stock. When any item is
// short the shortages are returned and the ledger is left untouched;
// otherwise each aggregated requirement is withdrawn with its own audit row.
func (p *Planner) Consume(ctx context.Context, reqs []domain.Requirement, actor string) (Result, error) {
	totals, err := Aggregate(reqs)
	if err != nil {
		return Result{}, err
	}
	if len(totals) == 0 {
		return Result{}, nil
	}

	var res Result
	if p.mode == config.ConsistencyAtomic {
		res, err = p.consumeAtomic(ctx, totals, actor)
	} else {
		res, err = p.consumeSequential(ctx, totals, actor)
	}
	if err != nil {
		return Result{}, err
	}
	if !res.OK() {
		metrics.ConsumptionRejected.Inc()
		p.log.Info().Interface("shortages", res.Shortages).Msg("consumption rejected")
	}
	return res, nil
}

func (p *Planner) consumeSequential(ctx context.Context, totals []domain.Requirement, actor string) (Result, error) {
	items, err := p.ledger.ListItemsByIDs(ctx, itemIDs(totals))
	if err != nil {
		return Result{}, err
	}
	if shortages := shortagesFor(totals, items); len(shortages) > 0 {
		return Result{Shortages: shortages}, nil
	}

	applied := make([]string, 0, len(totals))
	for _, req := range totals {
		if _, err := p.ledger.AdjustQuantity(ctx, req.ItemID, -req.Quantity, ConsumptionNote, actor); err != nil {
			if len(applied) > 0 {
				metrics.PartialConsumptions.Inc()
				p.log.Error().Err(err).
					Strs("applied_items", applied).
					Str("failed_item", req.ItemID).
					Msg("consumption failed after partial withdrawal")
			}
			return Result{}, fmt.Errorf("consume %s: %w", req.ItemID, err)
		}
		applied = append(applied, req.ItemID)
	}
	return Result{}, nil
}

func (p *Planner) consumeAtomic(ctx context.Context, totals []domain.Requirement, actor string) (Result, error) {
	for attempt := 1; attempt <= maxAtomicAttempts; attempt++ {
		res, err := p.tryAtomic(ctx, totals, actor)
		if !errors.Is(err, errStockChanged) {
			if err == nil && res.OK() {
				metrics.LedgerAdjustments.WithLabelValues("consumption").Add(float64(len(totals)))
			}
			return res, err
		}
		p.log.Warn().Int("attempt", attempt).Msg("stock changed concurrently, retrying consumption")
	}
	return Result{}, fmt.Errorf("consume inventory: %w after %d attempts", errStockChanged, maxAtomicAttempts)
}

func (p *Planner) tryAtomic(ctx context.Context, totals []domain.Requirement, actor string) (Result, error) {
	var shortages []domain.Shortage
	err := database.WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		items, err := listItemsByIDs(ctx, tx, itemIDs(totals))
		if err != nil {
			return err
		}
		if shortages = shortagesFor(totals, items); len(shortages) > 0 {
			return errRejected
		}
		for _, req := range totals {
			ok, err := p.ledger.decrement(ctx, tx, req, actor)
			if err != nil {
				return err
			}
			if !ok {
				return errStockChanged
			}
		}
		return nil
	})
	if errors.Is(err, errRejected) {
		return Result{Shortages: shortages}, nil
	}
	return Result{}, err
}

func shortagesFor(totals []domain.Requirement, items []domain.InventoryItem) []domain.Shortage {
	byID := make(map[string]domain.InventoryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var shortages []domain.Shortage
	for _, req := range totals {
		item, ok := byID[req.ItemID]
		if ok && item.Quantity >= req.Quantity {
			continue
		}
		shortage := domain.Shortage{ItemID: req.ItemID, Name: unknownItemName, Requested: req.Quantity}
		if ok {
			shortage.Name = item.Name
			shortage.Available = item.Quantity
		}
		shortages = append(shortages, shortage)
	}
	return shortages
}

func itemIDs(reqs []domain.Requirement) []string {
	ids := make([]string, len(reqs))
	for i, req := range reqs {
		ids[i] = req.ItemID
	}
	return ids
}
