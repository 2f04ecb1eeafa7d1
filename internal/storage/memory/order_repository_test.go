package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func newOrder(owner, id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		Owner:        owner,
		CustomerName: "Guest",
		Items: []domain.OrderItem{
			{ID: "m-1", Name: "Espresso", Price: decimal.RequireFromString("2.50"), Category: "coffee", Quantity: 2},
		},
		Status:    domain.Active(),
		CreatedAt: createdAt,
	}
}

func TestOrderRepository_SaveAndLoadActive(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	stored, err := repo.Save(ctx, newOrder("owner-1", "001", now))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version 1, got %d", stored.Version)
	}

	active, err := repo.LoadActive(ctx, "owner-1")
	if err != nil {
		t.Fatalf("load active failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "001" {
		t.Fatalf("expected order 001, got %+v", active)
	}

	other, err := repo.LoadActive(ctx, "owner-2")
	if err != nil {
		t.Fatalf("load active failed: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no orders for another owner, got %d", len(other))
	}
}

func TestOrderRepository_LoadSortedNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"001", "002", "003"} {
		if _, err := repo.Save(ctx, newOrder("owner-1", id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	active, err := repo.LoadActive(ctx, "owner-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if active[0].ID != "003" || active[2].ID != "001" {
		t.Fatalf("unexpected order: %s, %s, %s", active[0].ID, active[1].ID, active[2].ID)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	stored, err := repo.Save(ctx, newOrder("owner-1", "001", time.Now()))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	paid := stored.Clone()
	paid.Status = domain.Paid(domain.PaymentMethodCash)
	if _, err := repo.Save(ctx, paid); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}

	cancelled := stored.Clone()
	cancelled.Status = domain.Cancelled()
	if _, err := repo.Save(ctx, cancelled); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	history, err := repo.LoadHistory(ctx, "owner-1")
	if err != nil {
		t.Fatalf("load history failed: %v", err)
	}
	if len(history) != 1 || !history[0].Status.IsPaid() {
		t.Fatalf("expected single paid order in history, got %+v", history)
	}
}

func TestOrderRepository_SaveDuplicateInsert(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	if _, err := repo.Save(ctx, newOrder("owner-1", "001", time.Now())); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := repo.Save(ctx, newOrder("owner-1", "001", time.Now())); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}
}

func TestOrderRepository_UpdateMissing(t *testing.T) {
	order := newOrder("owner-1", "404", time.Now())
	order.Version = 3

	if _, err := memory.NewOrderRepository().Save(context.Background(), order); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_DeleteManyKeepsSequence(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	if _, err := repo.Save(ctx, newOrder("owner-1", "001", time.Now())); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := repo.Save(ctx, newOrder("owner-1", "002", time.Now()))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second.Status = domain.Cancelled()
	if _, err := repo.Save(ctx, second); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	removed, err := repo.DeleteMany(ctx, "owner-1", domain.HistoryStatuses)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	active, _ := repo.LoadActive(ctx, "owner-1")
	if len(active) != 1 || active[0].ID != "001" {
		t.Fatalf("active orders must survive, got %+v", active)
	}

	seq, err := repo.LastSequence(ctx, "owner-1")
	if err != nil {
		t.Fatalf("last sequence failed: %v", err)
	}
	if seq != 2 {
		t.Fatalf("expected high-water 2 after delete, got %d", seq)
	}
}
