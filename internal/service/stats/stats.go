// Package stats строит ряды выручки и количества заказов по временным корзинам.
// Отменённые заказы не входят ни в один счётчик, выручку дают только оплаченные.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Scale — гранулярность временных корзин.
type Scale string

const (
	ScaleDay   Scale = "day"
	ScaleWeek  Scale = "week"
	ScaleMonth Scale = "month"
	ScaleAll   Scale = "all"
)

const (
	hoursPerDay   = 24
	daysPerWeek   = 7
	weeksPerMonth = 4
)

// ParseScale разбирает масштаб из запроса; пустое значение означает day.
func ParseScale(raw string) (Scale, error) {
	switch Scale(strings.ToLower(strings.TrimSpace(raw))) {
	case ScaleDay, "":
		return ScaleDay, nil
	case ScaleWeek:
		return ScaleWeek, nil
	case ScaleMonth:
		return ScaleMonth, nil
	case ScaleAll:
		return ScaleAll, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrScaleInvalid, raw)
	}
}

// Bucket — одна корзина ряда.
type Bucket struct {
	Label   string
	Orders  int
	Revenue decimal.Decimal
}

// MethodRevenue — выручка по одному способу оплаты.
type MethodRevenue struct {
	Method  domain.PaymentMethod
	Revenue decimal.Decimal
}

// Totals — сводные показатели, не зависящие от масштаба.
type Totals struct {
	TotalOrders  int
	TotalRevenue decimal.Decimal
	TodayOrders  int
	TodayRevenue decimal.Decimal
}

// Report — результат агрегации.
type Report struct {
	Scale    Scale
	Series   []Bucket
	Payments []MethodRevenue
	Totals   Totals
}

// Aggregate считает отчёт по активным заказам и истории владельца.
// now задаёт "сегодня" и часовой пояс для всех календарных границ.
func Aggregate(active, history []domain.Order, scale Scale, now time.Time) (Report, error) {
	orders := make([]domain.Order, 0, len(active)+len(history))
	orders = append(orders, active...)
	orders = append(orders, history...)

	series, err := Series(orders, scale, now)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Scale:    scale,
		Series:   series,
		Payments: PaymentBreakdown(orders),
		Totals:   ComputeTotals(orders, now),
	}, nil
}

// Series раскладывает заказы по корзинам выбранного масштаба.
func Series(orders []domain.Order, scale Scale, now time.Time) ([]Bucket, error) {
	switch scale {
	case ScaleDay:
		return daySeries(orders, now), nil
	case ScaleWeek:
		return weekSeries(orders, now), nil
	case ScaleMonth:
		return monthSeries(orders, now), nil
	case ScaleAll:
		return allSeries(orders, now.Location()), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrScaleInvalid, scale)
	}
}

// PaymentBreakdown суммирует выручку оплаченных заказов по способам оплаты
// в порядке upi, cash, unspecified. Способы с нулевой выручкой не выводятся.
func PaymentBreakdown(orders []domain.Order) []MethodRevenue {
	sums := make(map[domain.PaymentMethod]decimal.Decimal, len(domain.PaymentMethods))
	for _, order := range orders {
		method, ok := order.Status.Method()
		if !ok {
			continue
		}
		sums[method] = sums[method].Add(order.Total())
	}

	out := make([]MethodRevenue, 0, len(sums))
	for _, method := range domain.PaymentMethods {
		revenue := sums[method]
		if revenue.IsZero() {
			continue
		}
		out = append(out, MethodRevenue{Method: method, Revenue: revenue})
	}
	return out
}

// ComputeTotals считает итоги за всё время и за сегодняшний локальный день.
func ComputeTotals(orders []domain.Order, now time.Time) Totals {
	totals := Totals{TotalRevenue: decimal.Zero, TodayRevenue: decimal.Zero}
	today := civilDay(now, now.Location())

	for _, order := range orders {
		if order.Status.IsCancelled() {
			continue
		}
		isToday := civilDay(order.CreatedAt, now.Location()) == today
		totals.TotalOrders++
		if isToday {
			totals.TodayOrders++
		}
		if !order.Status.IsPaid() {
			continue
		}
		totals.TotalRevenue = totals.TotalRevenue.Add(order.Total())
		if isToday {
			totals.TodayRevenue = totals.TodayRevenue.Add(order.Total())
		}
	}
	return totals
}

func daySeries(orders []domain.Order, now time.Time) []Bucket {
	loc := now.Location()
	buckets := newBuckets(hoursPerDay, func(i int) string { return fmt.Sprintf("%d:00", i) })
	today := civilDay(now, loc)

	for _, order := range orders {
		local := order.CreatedAt.In(loc)
		if civilDay(local, loc) != today {
			continue
		}
		add(&buckets[local.Hour()], order)
	}
	return buckets
}

func weekSeries(orders []domain.Order, now time.Time) []Bucket {
	loc := now.Location()
	today := civilDay(now, loc)
	buckets := newBuckets(daysPerWeek, func(i int) string {
		return today.addDays(i - (daysPerWeek - 1)).weekday().String()[:3]
	})

	for _, order := range orders {
		daysAgo := today.sub(civilDay(order.CreatedAt, loc))
		if daysAgo < 0 || daysAgo >= daysPerWeek {
			continue
		}
		add(&buckets[daysPerWeek-1-daysAgo], order)
	}
	return buckets
}

func monthSeries(orders []domain.Order, now time.Time) []Bucket {
	loc := now.Location()
	today := civilDay(now, loc)
	buckets := newBuckets(weeksPerMonth, func(i int) string { return fmt.Sprintf("Week %d", i+1) })

	for _, order := range orders {
		daysAgo := today.sub(civilDay(order.CreatedAt, loc))
		if daysAgo < 0 || daysAgo >= weeksPerMonth*daysPerWeek {
			continue
		}
		add(&buckets[weeksPerMonth-1-daysAgo/daysPerWeek], order)
	}
	return buckets
}

func allSeries(orders []domain.Order, loc *time.Location) []Bucket {
	type monthKey struct {
		year  int
		month time.Month
	}

	byMonth := make(map[monthKey]*Bucket)
	keys := make([]monthKey, 0)
	for _, order := range orders {
		if order.Status.IsCancelled() {
			continue
		}
		local := order.CreatedAt.In(loc)
		key := monthKey{year: local.Year(), month: local.Month()}
		bucket, ok := byMonth[key]
		if !ok {
			bucket = &Bucket{
				Label:   time.Date(key.year, key.month, 1, 0, 0, 0, 0, loc).Format("Jan 2006"),
				Revenue: decimal.Zero,
			}
			byMonth[key] = bucket
			keys = append(keys, key)
		}
		add(bucket, order)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})

	out := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		out = append(out, *byMonth[key])
	}
	return out
}

func newBuckets(n int, label func(int) string) []Bucket {
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i] = Bucket{Label: label(i), Revenue: decimal.Zero}
	}
	return buckets
}

// add учитывает заказ в корзине: отменённые пропускаются, выручка только у оплаченных.
func add(bucket *Bucket, order domain.Order) {
	if order.Status.IsCancelled() {
		return
	}
	bucket.Orders++
	if order.Status.IsPaid() {
		bucket.Revenue = bucket.Revenue.Add(order.Total())
	}
}

// date — календарная дата без времени и пояса.
type date struct {
	year  int
	month time.Month
	day   int
}

func civilDay(t time.Time, loc *time.Location) date {
	y, m, d := t.In(loc).Date()
	return date{year: y, month: m, day: d}
}

// sub возвращает количество календарных дней от other до d.
func (d date) sub(other date) int {
	return int(d.utcMidnight().Sub(other.utcMidnight()).Hours() / 24)
}

func (d date) addDays(n int) date {
	return civilDay(d.utcMidnight().AddDate(0, 0, n), time.UTC)
}

func (d date) weekday() time.Weekday {
	return d.utcMidnight().Weekday()
}

// utcMidnight даёт опорную точку без переходов на летнее время.
func (d date) utcMidnight() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}
