package inventory

import (
	"context"
	"math"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/config"
)

var consistencyModes = []string{config.ConsistencySequential, config.ConsistencyAtomic}

func newTestPlanner(t *testing.T, mode string) (*Planner, *Ledger, *sqlx.DB) {
	t.Helper()
	l, db := newTestLedger(t)
	return NewPlanner(db, l, mode, zerolog.Nop()), l, db
}

func quantities(t *testing.T, l *Ledger) map[string]int64 {
	t.Helper()
	items, err := l.ListItems(context.Background())
	require.NoError(t, err)
	out := make(map[string]int64, len(items))
	for _, it := range items {
		out[it.ID] = it.Quantity
	}
	return out
}

func TestAggregate(t *testing.T) {
	totals, err := Aggregate([]domain.Requirement{
		{ItemID: "gauze", Quantity: 4},
		{ItemID: "para", Quantity: 1},
		{ItemID: " gauze ", Quantity: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Requirement{
		{ItemID: "gauze", Quantity: 8},
		{ItemID: "para", Quantity: 1},
	}, totals)
}

func TestAggregate_Invalid(t *testing.T) {
	cases := map[string][]domain.Requirement{
		"zero quantity":     {{ItemID: "para", Quantity: 0}},
		"negative quantity": {{ItemID: "para", Quantity: -2}},
		"empty item":        {{ItemID: " ", Quantity: 1}},
		"above maximum":     {{ItemID: "para", Quantity: domain.MaxQuantity + 1}},
		"max int64":         {{ItemID: "para", Quantity: math.MaxInt64}},
		"total overflows":   {{ItemID: "para", Quantity: math.MaxInt64}, {ItemID: "para", Quantity: 2}},
		"total above max":   {{ItemID: "para", Quantity: 600_000}, {ItemID: " para", Quantity: 400_001}},
	}
	for name, reqs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Aggregate(reqs)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestAggregate_AllowsTotalAtMaximum(t *testing.T) {
	totals, err := Aggregate([]domain.Requirement{
		{ItemID: "para", Quantity: 600_000},
		{ItemID: "para", Quantity: 400_000},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Requirement{{ItemID: "para", Quantity: domain.MaxQuantity}}, totals)
}

func TestConsume_OversizedQuantitiesRejected(t *testing.T) {
	batches := map[string][]domain.Requirement{
		"wrapping total": {{ItemID: "para", Quantity: math.MaxInt64}, {ItemID: "para", Quantity: 2}},
		"single huge":    {{ItemID: "para", Quantity: math.MaxInt64}},
		"split above max": {
			{ItemID: "gauze", Quantity: 1},
			{ItemID: "para", Quantity: domain.MaxQuantity},
			{ItemID: "para", Quantity: 1},
		},
	}
	for _, mode := range consistencyModes {
		for name, reqs := range batches {
			t.Run(mode+"/"+name, func(t *testing.T) {
				p, l, db := newTestPlanner(t, mode)
				mustAdd(t, l, "para", "Paracetamol 500mg", 100, 20)
				mustAdd(t, l, "gauze", "Gauze", 10, 0)

				_, err := p.Consume(context.Background(), reqs, "doc-1")
				require.ErrorIs(t, err, domain.ErrValidation)

				assert.Equal(t, map[string]int64{"para": 100, "gauze": 10}, quantities(t, l))
				assert.Empty(t, adjustmentsFor(t, db, "para"))
				assert.Empty(t, adjustmentsFor(t, db, "gauze"))
			})
		}
	}
}

func TestConsume_MaximumQuantityIsAShortage(t *testing.T) {
	for _, mode := range consistencyModes {
		t.Run(mode, func(t *testing.T) {
			p, l, db := newTestPlanner(t, mode)
			mustAdd(t, l, "para", "Paracetamol 500mg", 100, 20)

			res, err := p.Consume(context.Background(), []domain.Requirement{{ItemID: "para", Quantity: domain.MaxQuantity}}, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, []domain.Shortage{{ItemID: "para", Name: "Paracetamol 500mg", Requested: domain.MaxQuantity, Available: 100}}, res.Shortages)
			assert.Equal(t, int64(100), quantities(t, l)["para"])
			assert.Empty(t, adjustmentsFor(t, db, "para"))
		})
	}
}

func TestNewPlanner_UnknownModeFallsBackToSequential(t *testing.T) {
	p, _, _ := newTestPlanner(t, "eventual")
	assert.Equal(t, config.ConsistencySequential, p.mode)
}

func TestConsume_Success(t *testing.T) {
	for _, mode := range consistencyModes {
		t.Run(mode, func(t *testing.T) {
			p, l, db := newTestPlanner(t, mode)
			mustAdd(t, l, "para", "Paracetamol 500mg", 100, 20)

			res, err := p.Consume(context.Background(), []domain.Requirement{{ItemID: "para", Quantity: 10}}, "doc-1")
			require.NoError(t, err)
			assert.True(t, res.OK())

			assert.Equal(t, int64(90), quantities(t, l)["para"])
			rows := adjustmentsFor(t, db, "para")
			require.Len(t, rows, 1)
			assert.Equal(t, int64(-10), rows[0].Delta)
			require.NotNil(t, rows[0].Note)
			assert.Equal(t, ConsumptionNote, *rows[0].Note)
		})
	}
}

func TestConsume_ShortageLeavesLedgerUntouched(t *testing.T) {
	for _, mode := range consistencyModes {
		t.Run(mode, func(t *testing.T) {
			p, l, db := newTestPlanner(t, mode)
			mustAdd(t, l, "amox", "Amoxicillin", 5, 0)
			mustAdd(t, l, "para", "Paracetamol 500mg", 100, 20)
			before := quantities(t, l)

			res, err := p.Consume(context.Background(), []domain.Requirement{
				{ItemID: "para", Quantity: 2},
				{ItemID: "amox", Quantity: 8},
			}, "doc-1")
			require.NoError(t, err)
			assert.False(t, res.OK())
			assert.Equal(t, []domain.Shortage{
				{ItemID: "amox", Name: "Amoxicillin", Requested: 8, Available: 5},
			}, res.Shortages)

			assert.Equal(t, before, quantities(t, l))
			assert.Empty(t, adjustmentsFor(t, db, "para"))
			assert.Empty(t, adjustmentsFor(t, db, "amox"))
		})
	}
}

func TestConsume_UnknownItem(t *testing.T) {
	for _, mode := range consistencyModes {
		t.Run(mode, func(t *testing.T) {
			p, l, _ := newTestPlanner(t, mode)
			mustAdd(t, l, "para", "Paracetamol 500mg", 100, 20)

			res, err := p.Consume(context.Background(), []domain.Requirement{
				{ItemID: "para", Quantity: 1},
				{ItemID: "ghost", Quantity: 3},
			}, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, []domain.Shortage{
				{ItemID: "ghost", Name: "Unknown item", Requested: 3, Available: 0},
			}, res.Shortages)
			assert.Equal(t, int64(100), quantities(t, l)["para"])
		})
	}
}

func TestConsume_AggregationMatchesSingleRequirement(t *testing.T) {
	for _, mode := range consistencyModes {
		t.Run(mode, func(t *testing.T) {
			split, splitLedger, _ := newTestPlanner(t, mode)
			whole, wholeLedger, _ := newTestPlanner(t, mode)
			mustAdd(t, splitLedger, "gauze", "Gauze", 6, 0)
			mustAdd(t, wholeLedger, "gauze", "Gauze", 6, 0)

			splitRes, err := split.Consume(context.Background(), []domain.Requirement{
				{ItemID: "gauze", Quantity: 3},
				{ItemID: "gauze", Quantity: 4},
			}, "doc-1")
			require.NoError(t, err)
			wholeRes, err := whole.Consume(context.Background(), []domain.Requirement{
				{ItemID: "gauze", Quantity: 7},
			}, "doc-1")
			require.NoError(t, err)

			assert.Equal(t, wholeRes, splitRes)
			require.Len(t, splitRes.Shortages, 1)
			assert.Equal(t, int64(7), splitRes.Shortages[0].Requested)
		})
	}
}

func TestConsume_DuplicateLinesWithinStock(t *testing.T) {
	for _, mode := range consistencyModes {
		t.Run(mode, func(t *testing.T) {
			p, l, db := newTestPlanner(t, mode)
			mustAdd(t, l, "gauze", "Gauze", 10, 0)

			res, err := p.Consume(context.Background(), []domain.Requirement{
				{ItemID: "gauze", Quantity: 4},
				{ItemID: "gauze", Quantity: 4},
			}, "nurse-1")
			require.NoError(t, err)
			assert.True(t, res.OK())
			assert.Equal(t, int64(2), quantities(t, l)["gauze"])

			rows := adjustmentsFor(t, db, "gauze")
			require.Len(t, rows, 1)
			assert.Equal(t, int64(-8), rows[0].Delta)
		})
	}
}

func TestConsume_AuditParity(t *testing.T) {
	for _, mode := range consistencyModes {
		t.Run(mode, func(t *testing.T) {
			p, l, db := newTestPlanner(t, mode)
			mustAdd(t, l, "para", "Paracetamol 500mg", 100, 20)
			mustAdd(t, l, "gauze", "Gauze", 50, 5)
			before := quantities(t, l)

			batches := [][]domain.Requirement{
				{{ItemID: "para", Quantity: 10}},
				{{ItemID: "para", Quantity: 5}, {ItemID: "gauze", Quantity: 3}},
				{{ItemID: "gauze", Quantity: 60}},
				{{ItemID: "gauze", Quantity: 1}, {ItemID: "gauze", Quantity: 1}},
			}
			for _, reqs := range batches {
				_, err := p.Consume(context.Background(), reqs, "doc-1")
				require.NoError(t, err)
			}
			after := quantities(t, l)

			var count int
			var sum int64
			require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM inventory_adjustments WHERE note = ?`, ConsumptionNote))
			require.NoError(t, db.Get(&sum, `SELECT COALESCE(SUM(delta), 0) FROM inventory_adjustments WHERE note = ?`, ConsumptionNote))

			assert.Equal(t, 4, count)
			var decrement int64
			for id, q := range before {
				decrement += after[id] - q
			}
			assert.Equal(t, decrement, sum)
			assert.Equal(t, int64(85), after["para"])
			assert.Equal(t, int64(45), after["gauze"])
		})
	}
}

func TestConsume_InvalidRequirementHasNoSideEffects(t *testing.T) {
	p, l, db := newTestPlanner(t, config.ConsistencySequential)
	mustAdd(t, l, "para", "Paracetamol 500mg", 100, 20)

	_, err := p.Consume(context.Background(), []domain.Requirement{
		{ItemID: "para", Quantity: 5},
		{ItemID: "para", Quantity: 0},
	}, "doc-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(100), quantities(t, l)["para"])
	assert.Empty(t, adjustmentsFor(t, db, "para"))
}

func TestConsume_Empty(t *testing.T) {
	p, _, _ := newTestPlanner(t, config.ConsistencyAtomic)

	res, err := p.Consume(context.Background(), nil, "doc-1")
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestShortagesFor(t *testing.T) {
	items := []domain.InventoryItem{
		{ID: "amox", Name: "Amoxicillin", Quantity: 5},
		{ID: "para", Name: "Paracetamol", Quantity: 2},
	}
	got := shortagesFor([]domain.Requirement{
		{ItemID: "para", Quantity: 2},
		{ItemID: "amox", Quantity: 6},
		{ItemID: "ghost", Quantity: 1},
	}, items)

	assert.Equal(t, []domain.Shortage{
		{ItemID: "amox", Name: "Amoxicillin", Requested: 6, Available: 5},
		{ItemID: "ghost", Name: "Unknown item", Requested: 1, Available: 0},
	}, got)
}
