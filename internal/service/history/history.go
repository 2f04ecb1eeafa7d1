// Package history фильтрует историю заказов по датам и выгружает её в CSV.
package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	// DateLayout — формат дат фильтра в запросах.
	DateLayout = "2006-01-02"
	// ExportDateLayout — формат даты заказа в строке CSV.
	ExportDateLayout = "1/2/2006, 3:04:05 PM"

	csvHeader         = "Order ID,Customer,Date,Status,Total,Payment Method,Items"
	notApplicable     = "N/A"
	exportFilePattern = "cafe-orders-%s.csv"
)

// Range — необязательные границы выборки. Nil означает отсутствие границы.
type Range struct {
	Start *time.Time
	End   *time.Time
}

// ParseRange разбирает даты вида YYYY-MM-DD как локальную полночь в loc.
// Пустая строка оставляет границу открытой.
func ParseRange(start, end string, loc *time.Location) (Range, error) {
	from, err := parseDate(start, loc)
	if err != nil {
		return Range{}, fmt.Errorf("startDate: %w", err)
	}
	to, err := parseDate(end, loc)
	if err != nil {
		return Range{}, fmt.Errorf("endDate: %w", err)
	}
	return Range{Start: from, End: to}, nil
}

func parseDate(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, raw, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrDateInvalid, raw)
	}
	return &t, nil
}

// EndOfDay возвращает 23:59:59.999 той же календарной даты в поясе d.
func EndOfDay(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 23, 59, 59, int(999*time.Millisecond), d.Location())
}

// Filter оставляет оплаченные и отменённые заказы в пределах r.
// Нижняя граница включительна, верхняя расширяется до конца дня.
// Результат отсортирован от новых к старым.
func Filter(orders []domain.Order, r Range) []domain.Order {
	var end time.Time
	if r.End != nil {
		end = EndOfDay(*r.End)
	}

	out := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if !order.Status.IsTerminal() {
			continue
		}
		if r.Start != nil && order.CreatedAt.Before(*r.Start) {
			continue
		}
		if r.End != nil && order.CreatedAt.After(end) {
			continue
		}
		out = append(out, order)
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst упорядочивает заказы по createdAt по убыванию, при равенстве по ID.
func SortNewestFirst(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

// ExportCSV выгружает заказы в CSV: заголовок и по строке на заказ, строки
// разделены \n без завершающего перевода строки. Поля не экранируются.
func ExportCSV(orders []domain.Order, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	lines := make([]string, 0, len(orders)+1)
	lines = append(lines, csvHeader)
	for _, order := range orders {
		lines = append(lines, strings.Join([]string{
			order.ID,
			order.CustomerName,
			order.CreatedAt.In(loc).Format(ExportDateLayout),
			exportStatus(order.Status),
			order.TotalString(),
			exportPaymentMethod(order.Status),
			exportItems(order.Items),
		}, ","))
	}
	return strings.Join(lines, "\n")
}

// ExportFileName возвращает имя файла выгрузки по текущей локальной дате.
func ExportFileName(now time.Time) string {
	return fmt.Sprintf(exportFilePattern, now.Format(DateLayout))
}

func exportStatus(s domain.Status) string {
	if s.IsCancelled() {
		return "Cancelled"
	}
	return "Paid"
}

func exportPaymentMethod(s domain.Status) string {
	method, ok := s.Method()
	if !ok || method == domain.PaymentMethodUnspecified {
		return notApplicable
	}
	return string(method)
}

func exportItems(items []domain.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}
	return strings.Join(parts, ", ")
}
