package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// ownerView — материализованное представление заказов одного владельца.
// Все поля защищены mu.
type ownerView struct {
	mu       sync.Mutex
	loaded   bool
	loadedAt time.Time
	orders   map[string]domain.Order
	nextSeq  int64
}

// invalidate заставляет следующий доступ перечитать данные из хранилища.
func (v *ownerView) invalidate() {
	v.loaded = false
	v.orders = nil
}

func (v *ownerView) get(id string) (domain.Order, bool) {
	order, ok := v.orders[id]
	return order, ok
}

func (v *ownerView) put(order domain.Order) {
	v.orders[order.ID] = order
}

// snapshot возвращает копии заказов, статус которых удовлетворяет keep.
func (v *ownerView) snapshot(keep func(domain.Status) bool) []domain.Order {
	out := make([]domain.Order, 0, len(v.orders))
	for _, order := range v.orders {
		if keep(order.Status) {
			out = append(out, order.Clone())
		}
	}
	return out
}

// Store держит по представлению на владельца. Владельцы не делят блокировки:
// общий mu защищает только карту представлений.
type Store struct {
	repo domain.OrderRepository
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	views map[string]*ownerView
}

// NewStore создаёт хранилище представлений поверх репозитория.
// ttl<=0 означает, что загруженное представление не устаревает.
func NewStore(repo domain.OrderRepository, ttl time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		repo:  repo,
		ttl:   ttl,
		now:   now,
		views: make(map[string]*ownerView),
	}
}

func (s *Store) view(owner string) *ownerView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[owner]
	if !ok {
		v = &ownerView{}
		s.views[owner] = v
	}
	return v
}

// withView выполняет fn под блокировкой представления владельца,
// предварительно загрузив его при необходимости.
func (s *Store) withView(ctx context.Context, owner string, fn func(*ownerView) error) error {
	if owner == "" {
		return domain.ErrUnauthorized
	}

	v := s.view(owner)
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.loaded || s.expired(v) {
		if err := s.load(ctx, owner, v); err != nil {
			return err
		}
	}
	return fn(v)
}

func (s *Store) expired(v *ownerView) bool {
	return s.ttl > 0 && s.now().Sub(v.loadedAt) >= s.ttl
}

// load читает активные заказы, историю и high-water последовательность и
// выставляет счётчик в max(максимальный числовой ID, high-water) + 1.
func (s *Store) load(ctx context.Context, owner string, v *ownerView) error {
	active, err := s.repo.LoadActive(ctx, owner)
	if err != nil {
		return fmt.Errorf("load active orders: %w", err)
	}
	history, err := s.repo.LoadHistory(ctx, owner)
	if err != nil {
		return fmt.Errorf("load order history: %w", err)
	}
	highWater, err := s.repo.LastSequence(ctx, owner)
	if err != nil {
		return fmt.Errorf("load order sequence: %w", err)
	}

	orders := make(map[string]domain.Order, len(active)+len(history))
	maxSeq := highWater
	for _, set := range [][]domain.Order{active, history} {
		for _, order := range set {
			orders[order.ID] = order
			if seq, ok := domain.ParseOrderSeq(order.ID); ok && seq > maxSeq {
				maxSeq = seq
			}
		}
	}

	v.orders = orders
	v.nextSeq = maxSeq + 1
	v.loaded = true
	v.loadedAt = s.now()
	return nil
}
