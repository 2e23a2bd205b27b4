package optimistic

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"picking-sync-backend/internal/claim"
	"picking-sync-backend/internal/db"
	"picking-sync-backend/internal/model"
	"picking-sync-backend/internal/store"
)

func newTestMutator(t *testing.T) (*Mutator, store.Store) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "local.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.MigrateLocal(gormDB))
	s := store.NewGormStore(gormDB)

	require.NoError(t, s.SaveOrder(context.Background(), &model.Order{
		ID:     "o1",
		Status: model.OrderStatusPicking,
		Lines:  []model.LineItem{{ID: "l1", ProductRef: "SKU-A-1", ExpectedQty: 5}},
	}))
	return NewMutator(s), s
}

func pickMutation(s store.Store, supersede bool) Mutation {
	return Mutation{
		Key: "line:l1",
		Validate: func(ctx context.Context) error {
			order, err := s.GetOrder(ctx, "o1")
			if err != nil {
				return err
			}
			if order.Lines[0].FullyPicked() {
				return claim.ErrLineComplete
			}
			return nil
		},
		Apply: func(tx *gorm.DB) error {
			return tx.Model(&model.LineItem{}).Where("id = ?", "l1").
				Update("picked_qty", gorm.Expr("picked_qty + 1")).Error
		},
		Op: &model.PendingOperation{
			ID:        uuid.NewString(),
			Method:    http.MethodPost,
			Target:    "/api/orders/o1/scan",
			Payload:   []byte(`{"worker":"alice","code":"96385074"}`),
			OrderID:   "o1",
			EntityKey: "line:l1",
		},
		Supersede: supersede,
	}
}

func TestDoAppliesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	m, s := newTestMutator(t)

	require.NoError(t, m.Do(ctx, pickMutation(s, false)))

	order, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, order.Lines[0].PickedQty)

	ops, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestDoRejectsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	m, s := newTestMutator(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Do(ctx, pickMutation(s, false)))
	}

	err := m.Do(ctx, pickMutation(s, false))
	assert.ErrorIs(t, err, claim.ErrLineComplete)

	// The rejected mutation left no trace: quantity capped, queue unchanged.
	order, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 5, order.Lines[0].PickedQty)

	ops, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 5)
}

func TestConcurrentMutationsHoldTheInvariant(t *testing.T) {
	ctx := context.Background()
	m, s := newTestMutator(t)

	const attempts = 20
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Over-picking attempts fail validation; that is the point.
			_ = m.Do(ctx, pickMutation(s, false))
		}()
	}
	wg.Wait()

	order, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	picked := order.Lines[0].PickedQty
	assert.GreaterOrEqual(t, picked, 0)
	assert.LessOrEqual(t, picked, order.Lines[0].ExpectedQty)
	assert.Equal(t, 5, picked)
}

func TestSupersedeCollapsesQueuedIntent(t *testing.T) {
	ctx := context.Background()
	m, s := newTestMutator(t)

	setQty := func(qty int) Mutation {
		return Mutation{
			Key: "line:l1",
			Apply: func(tx *gorm.DB) error {
				return tx.Model(&model.LineItem{}).Where("id = ?", "l1").
					Update("picked_qty", qty).Error
			},
			Op: &model.PendingOperation{
				ID:        uuid.NewString(),
				Method:    http.MethodPut,
				Target:    "/api/orders/o1/lines/l1/quantity",
				Payload:   []byte(fmt.Sprintf(`{"worker":"alice","qty":%d}`, qty)),
				OrderID:   "o1",
				EntityKey: "line:l1",
			},
			Supersede: true,
		}
	}

	require.NoError(t, m.Do(ctx, setQty(2)))
	require.NoError(t, m.Do(ctx, setQty(4)))

	ops, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Contains(t, string(ops[0].Payload), `"qty":4`)

	order, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 4, order.Lines[0].PickedQty)
}
