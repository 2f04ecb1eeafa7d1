package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func sampleOrder(owner, id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		Owner:        owner,
		CustomerName: "Table 4",
		Items: []domain.OrderItem{
			{ID: "m-1", Name: "Masala Chai", Price: decimal.RequireFromString("1.25"), Category: "tea", Quantity: 2},
			{ID: "m-7", Name: "Samosa", Price: decimal.RequireFromString("0.90"), Category: "snacks", Subcategory: "fried", Quantity: 3},
		},
		Status:    domain.Active(),
		CreatedAt: createdAt,
	}
}

func TestOrderRepository_PostgresSaveAndLoad(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	first, err := repo.Save(ctx, sampleOrder("owner-1", "001", now.Add(-2*time.Minute)))
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Version)

	_, err = repo.Save(ctx, sampleOrder("owner-1", "002", now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = repo.Save(ctx, sampleOrder("owner-2", "001", now))
	require.NoError(t, err)

	active, err := repo.LoadActive(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "002", active[0].ID)
	require.Equal(t, "001", active[1].ID)
	require.Equal(t, "owner-1", active[1].Owner)
	require.Len(t, active[1].Items, 2)
	require.Equal(t, "Masala Chai", active[1].Items[0].Name)
	require.Equal(t, "fried", active[1].Items[1].Subcategory)
	require.Equal(t, "5.20", active[1].TotalString())
	require.True(t, active[1].CreatedAt.Equal(now.Add(-2*time.Minute)))

	history, err := repo.LoadHistory(ctx, "owner-1")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestOrderRepository_PostgresTransitionsAndConflicts(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	stored, err := repo.Save(ctx, sampleOrder("owner-1", "001", time.Now().UTC()))
	require.NoError(t, err)

	edited := stored.Clone()
	edited.Items = edited.Items[:1]
	edited.Items[0].Quantity = 5
	edited, err = repo.Save(ctx, edited)
	require.NoError(t, err)
	require.EqualValues(t, 2, edited.Version)

	paid := edited.Clone()
	paid.Status = domain.Paid(domain.PaymentMethodUPI)
	_, err = repo.Save(ctx, paid)
	require.NoError(t, err)

	stale := edited.Clone()
	stale.Status = domain.Cancelled()
	_, err = repo.Save(ctx, stale)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)

	history, err := repo.LoadHistory(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	method, ok := history[0].Status.Method()
	require.True(t, ok)
	require.Equal(t, domain.PaymentMethodUPI, method)
	require.Len(t, history[0].Items, 1)
	require.Equal(t, 5, history[0].Items[0].Quantity)

	_, err = repo.Save(ctx, sampleOrder("owner-1", "001", time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrOrderAlreadyExists)

	missing := sampleOrder("owner-1", "404", time.Now().UTC())
	missing.Version = 1
	_, err = repo.Save(ctx, missing)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_PostgresDeleteManyKeepsSequence(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	seq, err := repo.LastSequence(ctx, "owner-1")
	require.NoError(t, err)
	require.Zero(t, seq)

	_, err = repo.Save(ctx, sampleOrder("owner-1", "001", time.Now().UTC()))
	require.NoError(t, err)
	second, err := repo.Save(ctx, sampleOrder("owner-1", "007", time.Now().UTC()))
	require.NoError(t, err)

	second.Status = domain.Cancelled()
	_, err = repo.Save(ctx, second)
	require.NoError(t, err)

	removed, err := repo.DeleteMany(ctx, "owner-1", domain.HistoryStatuses)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	active, err := repo.LoadActive(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	seq, err = repo.LastSequence(ctx, "owner-1")
	require.NoError(t, err)
	require.EqualValues(t, 7, seq)

	var itemCount int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id = '007'`).Scan(&itemCount))
	require.Zero(t, itemCount)
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("plain error")))
}

func TestStatusColumns(t *testing.T) {
	kind, method := statusColumns(domain.Paid(domain.PaymentMethodCash))
	require.Equal(t, "paid", kind)
	require.True(t, method.Valid)
	require.Equal(t, "cash", method.String)

	kind, method = statusColumns(domain.Cancelled())
	require.Equal(t, "cancelled", kind)
	require.False(t, method.Valid)
}
