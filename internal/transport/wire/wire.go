// Package wire описывает JSON-представление заказов, общее для REST и gRPC.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/stats"
)

// ItemRequest — позиция во входящем запросе. Цена принимается числом или строкой.
type ItemRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Quantity    int             `json:"quantity"`
}

// CreateOrderRequest — тело создания заказа.
type CreateOrderRequest struct {
	CustomerName string        `json:"customerName"`
	Items        []ItemRequest `json:"items"`
}

// UpdateOrderRequest — тело PUT. Помимо items принимает флаги isPaid и
// isCancelled, которыми старый клиент переводит заказ в историю.
type UpdateOrderRequest struct {
	Items         []ItemRequest `json:"items"`
	IsPaid        *bool         `json:"isPaid"`
	PaymentMethod string        `json:"paymentMethod"`
	IsCancelled   *bool         `json:"isCancelled"`
}

// PayOrderRequest — оплата заказа. В REST ID берётся из пути.
type PayOrderRequest struct {
	ID     string `json:"id,omitempty"`
	Method string `json:"method"`
}

// OrderRef адресует заказ по ID.
type OrderRef struct {
	ID string `json:"id"`
}

// EditOrderRequest — правка позиций по ID.
type EditOrderRequest struct {
	ID    string        `json:"id"`
	Items []ItemRequest `json:"items"`
}

// RangeRequest — границы выборки истории в формате YYYY-MM-DD.
type RangeRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// StatsRequest — масштаб статистики.
type StatsRequest struct {
	Scale string `json:"scale"`
}

// Item — позиция в ответе; деньги строкой с двумя знаками.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Quantity    int    `json:"quantity"`
}

// Order — заказ в ответе.
type Order struct {
	ID            string               `json:"id"`
	CustomerName  string               `json:"customerName"`
	Items         []Item            `json:"items"`
	Total         string               `json:"total"`
	Status        domain.StatusKind    `json:"status"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod,omitempty"`
	IsPaid        bool                 `json:"isPaid"`
	IsCancelled   bool                 `json:"isCancelled"`
	CreatedAt     time.Time            `json:"createdAt"`
}

type Bucket struct {
	Label   string `json:"label"`
	Orders  int    `json:"orders"`
	Revenue string `json:"revenue"`
}

type MethodRevenue struct {
	Method  domain.PaymentMethod `json:"method"`
	Revenue string               `json:"revenue"`
}

type Totals struct {
	TotalOrders  int    `json:"totalOrders"`
	TotalRevenue string `json:"totalRevenue"`
	TodayOrders  int    `json:"todayOrders"`
	TodayRevenue string `json:"todayRevenue"`
}

// Stats — отчёт статистики в ответе.
type Stats struct {
	Scale    stats.Scale        `json:"scale"`
	Series   []Bucket        `json:"series"`
	Payments []MethodRevenue `json:"payments"`
	Totals   Totals          `json:"totals"`
}

// Decode разбирает JSON; ошибка разбора считается ошибкой валидации.
func Decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrValidation, err)
	}
	return nil
}

// ToItems переводит позиции запроса в доменные.
func ToItems(in []ItemRequest) []domain.OrderItem {
	if len(in) == 0 {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(in))
	for _, item := range in {
		items = append(items, domain.OrderItem{
			ID:          item.ID,
			Name:        item.Name,
			Price:       item.Price,
			Category:    item.Category,
			Subcategory: item.Subcategory,
			Quantity:    item.Quantity,
		})
	}
	return items
}

// FromOrder собирает представление заказа.
func FromOrder(order domain.Order) Order {
	items := make([]Item, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, Item{
			ID:          item.ID,
			Name:        item.Name,
			Price:       item.Price.StringFixed(2),
			Category:    item.Category,
			Subcategory: item.Subcategory,
			Quantity:    item.Quantity,
		})
	}
	dto := Order{
		ID:           order.ID,
		CustomerName: order.CustomerName,
		Items:        items,
		Total:        order.TotalString(),
		Status:       order.Status.Kind(),
		IsPaid:       order.Status.IsPaid(),
		IsCancelled:  order.Status.IsCancelled(),
		CreatedAt:    order.CreatedAt,
	}
	if method, ok := order.Status.Method(); ok {
		dto.PaymentMethod = method
	}
	return dto
}

func FromOrders(orders []domain.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, order := range orders {
		out = append(out, FromOrder(order))
	}
	return out
}

// FromStats собирает представление отчёта.
func FromStats(report stats.Report) Stats {
	series := make([]Bucket, 0, len(report.Series))
	for _, b := range report.Series {
		series = append(series, Bucket{Label: b.Label, Orders: b.Orders, Revenue: b.Revenue.StringFixed(2)})
	}
	payments := make([]MethodRevenue, 0, len(report.Payments))
	for _, p := range report.Payments {
		payments = append(payments, MethodRevenue{Method: p.Method, Revenue: p.Revenue.StringFixed(2)})
	}
	return Stats{
		Scale:    report.Scale,
		Series:   series,
		Payments: payments,
		Totals: Totals{
			TotalOrders:  report.Totals.TotalOrders,
			TotalRevenue: report.Totals.TotalRevenue.StringFixed(2),
			TodayOrders:  report.Totals.TodayOrders,
			TodayRevenue: report.Totals.TodayRevenue.StringFixed(2),
		},
	}
}
