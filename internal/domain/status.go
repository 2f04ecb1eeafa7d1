package domain

import (
	"fmt"
	"strings"
)

// StatusKind описывает, в какой ветке жизненного цикла находится заказ.
type StatusKind string

const (
	// StatusKindActive — заказ принят и ещё может меняться.
	StatusKindActive StatusKind = "active"
	// StatusKindPaid — заказ оплачен, дальнейшие изменения запрещены.
	StatusKindPaid StatusKind = "paid"
	// StatusKindCancelled — заказ отменён, дальнейшие изменения запрещены.
	StatusKindCancelled StatusKind = "cancelled"
)

// PaymentMethod — способ оплаты, который сообщает кассир.
type PaymentMethod string

const (
	PaymentMethodUPI         PaymentMethod = "upi"
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodUnspecified PaymentMethod = "unspecified"
)

// PaymentMethods перечисляет способы оплаты в порядке вывода отчётов.
var PaymentMethods = []PaymentMethod{PaymentMethodUPI, PaymentMethodCash, PaymentMethodUnspecified}

// ParsePaymentMethod разбирает способ оплаты из запроса.
// Пустая строка означает unspecified, неизвестное значение даёт ошибку валидации.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMethodUPI:
		return PaymentMethodUPI, nil
	case PaymentMethodCash:
		return PaymentMethodCash, nil
	case PaymentMethodUnspecified, "":
		return PaymentMethodUnspecified, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrPaymentMethodInvalid, raw)
	}
}

// Status — статус заказа: Active, Paid{method} или Cancelled.
// Поля скрыты, поэтому значение собирается только конструкторами ниже
// и комбинация "оплачен и отменён" невыразима.
type Status struct {
	kind   StatusKind
	method PaymentMethod
}

// Active возвращает статус нового заказа.
func Active() Status {
	return Status{kind: StatusKindActive}
}

// Paid возвращает статус оплаченного заказа.
func Paid(method PaymentMethod) Status {
	if method == "" {
		method = PaymentMethodUnspecified
	}
	return Status{kind: StatusKindPaid, method: method}
}

// Cancelled возвращает статус отменённого заказа.
func Cancelled() Status {
	return Status{kind: StatusKindCancelled}
}

// ParseStatus восстанавливает статус из хранилища.
func ParseStatus(kind, method string) (Status, error) {
	switch StatusKind(kind) {
	case StatusKindActive:
		return Active(), nil
	case StatusKindCancelled:
		return Cancelled(), nil
	case StatusKindPaid:
		m, err := ParsePaymentMethod(method)
		if err != nil {
			// Старые записи без способа оплаты считаем unspecified.
			m = PaymentMethodUnspecified
		}
		return Paid(m), nil
	default:
		return Status{}, fmt.Errorf("unknown order status %q", kind)
	}
}

// Kind возвращает ветку жизненного цикла. Нулевое значение трактуется как Active.
func (s Status) Kind() StatusKind {
	if s.kind == "" {
		return StatusKindActive
	}
	return s.kind
}

// Method возвращает способ оплаты; ok=false для неоплаченных заказов.
func (s Status) Method() (PaymentMethod, bool) {
	if s.kind != StatusKindPaid {
		return "", false
	}
	return s.method, true
}

func (s Status) IsActive() bool    { return s.Kind() == StatusKindActive }
func (s Status) IsPaid() bool      { return s.kind == StatusKindPaid }
func (s Status) IsCancelled() bool { return s.kind == StatusKindCancelled }

// IsTerminal сообщает, что заказ перешёл в историю.
func (s Status) IsTerminal() bool {
	return s.IsPaid() || s.IsCancelled()
}

func (s Status) String() string {
	if s.kind == StatusKindPaid {
		return fmt.Sprintf("paid(%s)", s.method)
	}
	return string(s.Kind())
}

// StatusMatch — предикат по набору веток статуса, используется для массового удаления.
type StatusMatch []StatusKind

// HistoryStatuses выбирает заказы из истории.
var HistoryStatuses = StatusMatch{StatusKindPaid, StatusKindCancelled}

// Matches проверяет, попадает ли статус в набор.
func (m StatusMatch) Matches(s Status) bool {
	for _, kind := range m {
		if s.Kind() == kind {
			return true
		}
	}
	return false
}

// Strings возвращает значения для SQL-параметров.
func (m StatusMatch) Strings() []string {
	out := make([]string, 0, len(m))
	for _, kind := range m {
		out = append(out, string(kind))
	}
	return out
}
