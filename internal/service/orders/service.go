// Package orders управляет жизненным циклом заказов кассы: создание, правка
// позиций, оплата, отмена и очистка истории, а также чтение истории и статистики.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/history"
	"github.com/vladislavdragonenkov/pos/internal/service/stats"
)

// Notifier получает события об изменениях заказов владельца (live-лента).
type Notifier interface {
	Notify(event domain.OrderEvent)
}

// Options задаёт зависимости сервиса.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.OrderMetrics
	Outbox   domain.OutboxRepository
	Notifier Notifier
	Clock    func() time.Time
	Location *time.Location
	ViewTTL  time.Duration
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики жизненного цикла.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithOutbox включает запись событий в transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) { opts.Outbox = repo }
}

// WithNotifier подключает live-ленту.
func WithNotifier(n Notifier) Option {
	return func(opts *Options) { opts.Notifier = n }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// WithLocation задаёт часовой пояс для календарных границ.
func WithLocation(loc *time.Location) Option {
	return func(opts *Options) { opts.Location = loc }
}

// WithViewTTL задаёт срок жизни загруженного представления владельца.
func WithViewTTL(ttl time.Duration) Option {
	return func(opts *Options) { opts.ViewTTL = ttl }
}

// Service — контроллер жизненного цикла заказов.
type Service struct {
	store    *Store
	outbox   domain.OutboxRepository
	notifier Notifier
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	clock    func() time.Time
	loc      *time.Location
}

// NewService создаёт сервис заказов поверх репозитория.
func NewService(repo domain.OrderRepository, options ...Option) *Service {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	return &Service{
		store:    NewStore(repo, opts.ViewTTL, clock),
		outbox:   opts.Outbox,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   logger,
		clock:    clock,
		loc:      loc,
	}
}

// Location возвращает часовой пояс, в котором считаются календарные даты.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) now() time.Time {
	return s.clock().In(s.loc)
}

// Create создаёт активный заказ со следующим порядковым ID владельца.
func (s *Service) Create(ctx context.Context, owner, customerName string, items []domain.OrderItem) (domain.Order, error) {
	if owner == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	if err := domain.ValidateItems(items); err != nil {
		return domain.Order{}, err
	}

	var created domain.Order
	err := s.store.withView(ctx, owner, func(v *ownerView) error {
		candidate := domain.Order{
			ID:           domain.FormatOrderID(v.nextSeq),
			Owner:        owner,
			CustomerName: domain.NormalizeCustomerName(customerName),
			Items:        domain.CloneItems(items),
			Status:       domain.Active(),
			CreatedAt:    s.now(),
		}

		stored, err := s.store.repo.Save(ctx, candidate)
		if errors.Is(err, domain.ErrOrderAlreadyExists) {
			// Счётчик отстал от хранилища: другой экземпляр уже занял ID.
			if err := s.store.load(ctx, owner, v); err != nil {
				return err
			}
			candidate.ID = domain.FormatOrderID(v.nextSeq)
			stored, err = s.store.repo.Save(ctx, candidate)
		}
		if err != nil {
			return fmt.Errorf("save order: %w", err)
		}

		v.nextSeq++
		v.put(stored)
		created = stored.Clone()
		s.emit(domain.EventOrderCreated, created)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordCreated()
	s.logger.WithFields(log.Fields{
		"owner":    owner,
		"order_id": created.ID,
		"items":    len(created.Items),
	}).Info("order created")
	return created, nil
}

// Edit заменяет позиции активного заказа.
func (s *Service) Edit(ctx context.Context, owner, id string, items []domain.OrderItem) (domain.Order, error) {
	if owner == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	if err := domain.ValidateItems(items); err != nil {
		return domain.Order{}, err
	}

	order, err := s.mutate(ctx, owner, id, "edit", domain.EventOrderUpdated, func(o *domain.Order) {
		o.Items = domain.CloneItems(items)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordEdit()
	return order, nil
}

// MarkPaid переводит активный заказ в Paid{method}. Из двух конкурирующих
// вызовов успешен ровно один, второй получает ErrInvalidTransition.
func (s *Service) MarkPaid(ctx context.Context, owner, id string, method domain.PaymentMethod) (domain.Order, error) {
	if owner == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	if method == "" {
		method = domain.PaymentMethodUnspecified
	}
	if _, err := domain.ParsePaymentMethod(string(method)); err != nil {
		return domain.Order{}, err
	}

	order, err := s.mutate(ctx, owner, id, "pay", domain.EventOrderPaid, func(o *domain.Order) {
		o.Status = domain.Paid(method)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordPaid(string(method), order.Total())
	s.logger.WithFields(log.Fields{
		"owner":    owner,
		"order_id": order.ID,
		"method":   method,
		"total":    order.TotalString(),
	}).Info("order paid")
	return order, nil
}

// Cancel переводит активный заказ в Cancelled с той же гарантией атомарности, что и MarkPaid.
func (s *Service) Cancel(ctx context.Context, owner, id string) (domain.Order, error) {
	order, err := s.mutate(ctx, owner, id, "cancel", domain.EventOrderCancelled, func(o *domain.Order) {
		o.Status = domain.Cancelled()
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordCancelled()
	s.logger.WithFields(log.Fields{"owner": owner, "order_id": order.ID}).Info("order cancelled")
	return order, nil
}

// mutate применяет change к активному заказу и сохраняет его через CAS по версии.
// При неудаче представление не меняется; при конфликте версий оно сбрасывается.
// Событие пишется под блокировкой владельца: порядок событий совпадает с порядком изменений.
func (s *Service) mutate(ctx context.Context, owner, id, operation string, eventType domain.EventType, change func(*domain.Order)) (domain.Order, error) {
	if owner == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	var result domain.Order
	err := s.store.withView(ctx, owner, func(v *ownerView) error {
		current, ok := v.get(id)
		if !ok {
			return domain.ErrOrderNotFound
		}
		if !current.Status.IsActive() {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, id, current.Status)
		}

		candidate := current.Clone()
		change(&candidate)

		stored, err := s.store.repo.Save(ctx, candidate)
		switch {
		case domain.IsVersionConflict(err):
			v.invalidate()
			s.metrics.RecordConflict(operation)
			s.logger.WithFields(log.Fields{
				"owner":     owner,
				"order_id":  id,
				"operation": operation,
			}).Warn("order changed concurrently, transition rejected")
			return errors.Join(domain.ErrInvalidTransition, err)
		case errors.Is(err, domain.ErrOrderNotFound):
			v.invalidate()
			return domain.ErrOrderNotFound
		case err != nil:
			return fmt.Errorf("save order: %w", err)
		}

		v.put(stored)
		result = stored.Clone()
		s.emit(eventType, result)
		return nil
	})
	return result, err
}

// ClearHistory безвозвратно удаляет оплаченные и отменённые заказы владельца.
func (s *Service) ClearHistory(ctx context.Context, owner string) (int, error) {
	var deleted int
	err := s.store.withView(ctx, owner, func(v *ownerView) error {
		n, err := s.store.repo.DeleteMany(ctx, owner, domain.HistoryStatuses)
		if err != nil {
			v.invalidate()
			return fmt.Errorf("delete history: %w", err)
		}
		for id, order := range v.orders {
			if domain.HistoryStatuses.Matches(order.Status) {
				delete(v.orders, id)
			}
		}
		deleted = n
		s.emitEvent(domain.OrderEvent{
			Type:       domain.EventHistoryCleared,
			Owner:      owner,
			Deleted:    deleted,
			OccurredAt: s.clock().UTC(),
		}, owner)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.RecordHistoryCleared(deleted)
	s.logger.WithFields(log.Fields{"owner": owner, "deleted": deleted}).Info("history cleared")
	return deleted, nil
}

// Get возвращает заказ владельца по ID.
func (s *Service) Get(ctx context.Context, owner, id string) (domain.Order, error) {
	if owner == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	var order domain.Order
	err := s.store.withView(ctx, owner, func(v *ownerView) error {
		found, ok := v.get(id)
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = found.Clone()
		return nil
	})
	return order, err
}

// ListActive возвращает активные заказы от новых к старым.
func (s *Service) ListActive(ctx context.Context, owner string) ([]domain.Order, error) {
	active, _, err := s.snapshot(ctx, owner)
	if err != nil {
		return nil, err
	}
	history.SortNewestFirst(active)
	return active, nil
}

// History возвращает историю владельца в пределах r.
func (s *Service) History(ctx context.Context, owner string, r history.Range) ([]domain.Order, error) {
	_, past, err := s.snapshot(ctx, owner)
	if err != nil {
		return nil, err
	}
	return history.Filter(past, r), nil
}

// ExportHistory выгружает отфильтрованную историю в CSV и возвращает имя файла.
func (s *Service) ExportHistory(ctx context.Context, owner string, r history.Range) (string, string, error) {
	filtered, err := s.History(ctx, owner, r)
	if err != nil {
		return "", "", err
	}
	return history.ExportFileName(s.now()), history.ExportCSV(filtered, s.loc), nil
}

// Stats считает статистику по согласованному снимку заказов владельца.
func (s *Service) Stats(ctx context.Context, owner string, scale stats.Scale) (stats.Report, error) {
	active, past, err := s.snapshot(ctx, owner)
	if err != nil {
		return stats.Report{}, err
	}
	return stats.Aggregate(active, past, scale, s.now())
}

// snapshot копирует активные заказы и историю под одной блокировкой.
func (s *Service) snapshot(ctx context.Context, owner string) (active, past []domain.Order, err error) {
	err = s.store.withView(ctx, owner, func(v *ownerView) error {
		active = v.snapshot(domain.Status.IsActive)
		past = v.snapshot(domain.HistoryStatuses.Matches)
		return nil
	})
	return active, past, err
}

func (s *Service) emit(eventType domain.EventType, order domain.Order) {
	snap := order.Snapshot()
	s.emitEvent(domain.OrderEvent{
		Type:       eventType,
		Owner:      order.Owner,
		Order:      &snap,
		OccurredAt: s.clock().UTC(),
	}, order.Owner+"/"+order.ID)
}

// emitEvent пишет событие в outbox и live-ленту. Заказ к этому моменту уже
// сохранён, поэтому сбой outbox только логируется.
func (s *Service) emitEvent(event domain.OrderEvent, aggregateID string) {
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("event_type", event.Type).Error("failed to marshal order event")
		return
	}
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   aggregateID,
		EventType:     string(event.Type),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"event_type":   event.Type,
			"aggregate_id": aggregateID,
		}).Warn("failed to enqueue order event")
	}
}
