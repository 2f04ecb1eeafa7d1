package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCustomerName подставляется, если кассир не указал имя.
const DefaultCustomerName = "Guest"

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID — идентификатор позиции меню.
	ID string
	// Name — название позиции на момент заказа.
	Name string
	// Price — цена за единицу.
	Price       decimal.Decimal
	Category    string
	Subcategory string
	// Quantity — количество единиц, меняется только пока заказ активен.
	Quantity int
}

// LineTotal возвращает стоимость позиции: price * quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID           string
	Owner        string
	CustomerName string
	Items        []OrderItem
	Status       Status
	CreatedAt    time.Time
	// Version используется для optimistic locking, 0 означает, что заказ ещё не сохранён.
	Version int64
}

// Total считает сумму заказа по позициям без округления.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// TotalString возвращает сумму для отображения с двумя знаками.
func (o Order) TotalString() string {
	return o.Total().StringFixed(2)
}

// Clone возвращает копию заказа с собственным срезом позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Items = CloneItems(o.Items)
	return dst
}

// CloneItems копирует срез позиций.
func CloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	return append([]OrderItem(nil), items...)
}

// ValidateItems проверяет позиции заказа и возвращает все найденные ошибки разом.
func ValidateItems(items []OrderItem) error {
	if len(items) == 0 {
		return ErrItemsRequired
	}

	var errs []error
	for idx, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			errs = append(errs, fmt.Errorf("item[%d]: %w", idx, ErrItemNameRequired))
		}
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("item[%d]: %w", idx, ErrItemQtyInvalid))
		}
		if item.Price.IsNegative() {
			errs = append(errs, fmt.Errorf("item[%d]: %w", idx, ErrItemPriceInvalid))
		}
	}
	return errors.Join(errs...)
}

// NormalizeCustomerName обрезает пробелы и подставляет имя по умолчанию.
func NormalizeCustomerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultCustomerName
	}
	return name
}

// FormatOrderID форматирует порядковый номер в ID вида 001.
func FormatOrderID(seq int64) string {
	return fmt.Sprintf("%03d", seq)
}

// ParseOrderSeq извлекает порядковый номер из ID; нечисловые ID пропускаются.
func ParseOrderSeq(id string) (int64, bool) {
	seq, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
