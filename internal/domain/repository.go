package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов. Все методы
// работают в рамках одного владельца.
type OrderRepository interface {
	// LoadActive возвращает активные заказы владельца.
	LoadActive(ctx context.Context, owner string) ([]Order, error)
	// LoadHistory возвращает оплаченные и отменённые заказы владельца.
	LoadHistory(ctx context.Context, owner string) ([]Order, error)
	// Save вставляет заказ с Version=0 или обновляет его при совпадении версии.
	// Возвращает сохранённую копию с увеличенной версией.
	Save(ctx context.Context, order Order) (Order, error)
	// DeleteMany удаляет заказы владельца, статус которых попадает в match.
	DeleteMany(ctx context.Context, owner string, match StatusMatch) (int, error)
	// LastSequence возвращает максимальный выданный владельцу порядковый номер.
	LastSequence(ctx context.Context, owner string) (int64, error)
}
