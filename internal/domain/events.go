package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType — тип события жизненного цикла заказа.
type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderUpdated   EventType = "order.updated"
	EventOrderPaid      EventType = "order.paid"
	EventOrderCancelled EventType = "order.cancelled"
	EventHistoryCleared EventType = "history.cleared"
)

// AggregateTypeOrder — тип агрегата в outbox.
const AggregateTypeOrder = "order"

// ItemSnapshot — сериализуемое представление позиции.
type ItemSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Quantity    int             `json:"quantity"`
}

// OrderSnapshot — сериализуемое представление заказа для API и событий.
type OrderSnapshot struct {
	ID            string         `json:"id"`
	Owner         string         `json:"owner,omitempty"`
	CustomerName  string         `json:"customerName"`
	Items         []ItemSnapshot `json:"items"`
	Total         string         `json:"total"`
	Status        StatusKind     `json:"status"`
	PaymentMethod PaymentMethod  `json:"paymentMethod,omitempty"`
	IsPaid        bool           `json:"isPaid"`
	IsCancelled   bool           `json:"isCancelled"`
	CreatedAt     time.Time      `json:"createdAt"`
	Version       int64          `json:"version"`
}

// OrderEvent — полезная нагрузка события в outbox и live-ленте.
type OrderEvent struct {
	Type       EventType      `json:"type"`
	Owner      string         `json:"owner"`
	Order      *OrderSnapshot `json:"order,omitempty"`
	Deleted    int            `json:"deleted,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Snapshot собирает сериализуемое представление заказа.
func (o Order) Snapshot() OrderSnapshot {
	items := make([]ItemSnapshot, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, ItemSnapshot{
			ID:          item.ID,
			Name:        item.Name,
			Price:       item.Price,
			Category:    item.Category,
			Subcategory: item.Subcategory,
			Quantity:    item.Quantity,
		})
	}

	snap := OrderSnapshot{
		ID:           o.ID,
		Owner:        o.Owner,
		CustomerName: o.CustomerName,
		Items:        items,
		Total:        o.TotalString(),
		Status:       o.Status.Kind(),
		IsPaid:       o.Status.IsPaid(),
		IsCancelled:  o.Status.IsCancelled(),
		CreatedAt:    o.CreatedAt,
		Version:      o.Version,
	}
	if method, ok := o.Status.Method(); ok {
		snap.PaymentMethod = method
	}
	return snap
}

// Item восстанавливает позицию из снимка.
func (s ItemSnapshot) Item() OrderItem {
	return OrderItem{
		ID:          s.ID,
		Name:        s.Name,
		Price:       s.Price,
		Category:    s.Category,
		Subcategory: s.Subcategory,
		Quantity:    s.Quantity,
	}
}
