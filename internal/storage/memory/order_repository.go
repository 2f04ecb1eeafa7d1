package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository с разбиением по владельцам.
type orderRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]map[string]domain.Order
	sequences map[string]int64
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:     make(map[string]map[string]domain.Order),
		sequences: make(map[string]int64),
	}
}

func (r *orderRepositoryInMemory) LoadActive(_ context.Context, owner string) ([]domain.Order, error) {
	return r.load(owner, func(s domain.Status) bool { return s.IsActive() }), nil
}

func (r *orderRepositoryInMemory) LoadHistory(_ context.Context, owner string) ([]domain.Order, error) {
	return r.load(owner, domain.HistoryStatuses.Matches), nil
}

func (r *orderRepositoryInMemory) load(owner string, keep func(domain.Status) bool) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items[owner]))
	for _, order := range r.items[owner] {
		if !keep(order.Status) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result
}

// Save вставляет новый заказ или перезаписывает существующий, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.items[order.Owner]
	current, exists := byID[order.ID]

	switch {
	case order.Version == 0 && exists:
		return domain.Order{}, domain.ErrOrderAlreadyExists
	case order.Version != 0 && !exists:
		return domain.Order{}, domain.ErrOrderNotFound
	case exists && current.Version != order.Version:
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	if byID == nil {
		byID = make(map[string]domain.Order)
		r.items[order.Owner] = byID
	}
	if !exists {
		if seq, ok := domain.ParseOrderSeq(order.ID); ok && seq > r.sequences[order.Owner] {
			r.sequences[order.Owner] = seq
		}
	}

	stored := order.Clone()
	stored.Version++
	byID[order.ID] = stored
	return stored.Clone(), nil
}

func (r *orderRepositoryInMemory) DeleteMany(_ context.Context, owner string, match domain.StatusMatch) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, order := range r.items[owner] {
		if !match.Matches(order.Status) {
			continue
		}
		delete(r.items[owner], id)
		removed++
	}
	return removed, nil
}

func (r *orderRepositoryInMemory) LastSequence(_ context.Context, owner string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sequences[owner], nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
