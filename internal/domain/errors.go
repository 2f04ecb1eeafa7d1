package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation объединяет все ошибки некорректного ввода при создании и правке заказа.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be greater than zero", ErrValidation)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be non-negative", ErrValidation)
	// Ошибка пустого названия позиции.
	ErrItemNameRequired = fmt.Errorf("%w: item name is required", ErrValidation)
	// Ошибка неизвестного способа оплаты.
	ErrPaymentMethodInvalid = fmt.Errorf("%w: unknown payment method", ErrValidation)
	// Ошибка пустого идентификатора заказа в запросе.
	ErrOrderIDRequired = fmt.Errorf("%w: order id is required", ErrValidation)
	// Ошибка неизвестного масштаба статистики.
	ErrScaleInvalid = fmt.Errorf("%w: unknown stats scale", ErrValidation)
	// Ошибка некорректной даты фильтра истории.
	ErrDateInvalid = fmt.Errorf("%w: date must be in YYYY-MM-DD format", ErrValidation)

	// ErrOrderNotFound возвращается, если у владельца нет заказа с таким ID.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition возвращается при попытке изменить заказ не в том статусе.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrUnauthorized возвращается, если не удалось определить владельца.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists возвращается при повторной вставке заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyInProgress — запрос с этим ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is still in progress")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsValidation проверяет, что ошибка относится к некорректному вводу.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
