package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *orderRepository) LoadActive(ctx context.Context, owner string) ([]domain.Order, error) {
	return r.loadByStatus(ctx, owner, domain.StatusMatch{domain.StatusKindActive})
}

func (r *orderRepository) LoadHistory(ctx context.Context, owner string) ([]domain.Order, error) {
	return r.loadByStatus(ctx, owner, domain.HistoryStatuses)
}

func (r *orderRepository) loadByStatus(ctx context.Context, owner string, match domain.StatusMatch) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_name, status, payment_method, version, created_at
		FROM orders
		WHERE owner_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC, id DESC
	`, owner, match.Strings())
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			order  domain.Order
			status string
			method sql.NullString
		)
		if err := rows.Scan(&order.ID, &order.CustomerName, &status, &method, &order.Version, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Owner = owner
		if order.Status, err = domain.ParseStatus(status, method.String); err != nil {
			return nil, fmt.Errorf("order %s: %w", order.ID, err)
		}
		index[order.ID] = len(orders)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	if err := r.attachItems(ctx, owner, match, orders, index); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems подгружает позиции одним запросом для всех выбранных заказов.
func (r *orderRepository) attachItems(ctx context.Context, owner string, match domain.StatusMatch, orders []domain.Order, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.order_id, i.item_id, i.name, i.price, i.category, i.subcategory, i.quantity
		FROM order_items i
		JOIN orders o ON o.owner_id = i.owner_id AND o.id = i.order_id
		WHERE i.owner_id = $1 AND o.status = ANY($2)
		ORDER BY i.order_id, i.position
	`, owner, match.Strings())
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			price   string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ID, &item.Name, &price, &item.Category, &item.Subcategory, &item.Quantity); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if item.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("parse price of item %s in order %s: %w", item.ID, orderID, err)
		}

		// Заказ мог сменить статус между двумя запросами.
		pos, ok := index[orderID]
		if !ok {
			continue
		}
		orders[pos].Items = append(orders[pos].Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	return nil
}

// Save вставляет заказ с Version=0 или обновляет его через compare-and-swap по версии.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (stored domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if order.Version == 0 {
		err = r.insert(ctx, tx, order)
	} else {
		err = r.update(ctx, tx, order)
	}
	if err != nil {
		return domain.Order{}, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE owner_id = $1 AND order_id = $2`, order.Owner, order.ID); err != nil {
		return domain.Order{}, fmt.Errorf("clear order items: %w", err)
	}
	for pos, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				owner_id, order_id, position, item_id, name, price, category, subcategory, quantity
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			order.Owner, order.ID, pos, item.ID, item.Name, item.Price.String(),
			item.Category, item.Subcategory, item.Quantity,
		); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit save order: %w", err)
	}

	stored = order.Clone()
	stored.Version++
	return stored, nil
}

func (r *orderRepository) insert(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	now := r.now()
	status, method := statusColumns(order.Status)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			owner_id, id, customer_name, status, payment_method, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,1,$6,$7)
	`, order.Owner, order.ID, order.CustomerName, status, method, order.CreatedAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	seq, ok := domain.ParseOrderSeq(order.ID)
	if !ok {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO owner_sequences (owner_id, last_seq) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE
		SET last_seq = GREATEST(owner_sequences.last_seq, EXCLUDED.last_seq)
	`, order.Owner, seq); err != nil {
		return fmt.Errorf("bump owner sequence: %w", err)
	}
	return nil
}

func (r *orderRepository) update(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	status, method := statusColumns(order.Status)

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET customer_name = $4,
		    status = $5,
		    payment_method = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE owner_id = $1 AND id = $2 AND version = $3
	`, order.Owner, order.ID, order.Version, order.CustomerName, status, method, r.now())
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for update order: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM orders WHERE owner_id = $1 AND id = $2)
	`, order.Owner, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order existence: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

func (r *orderRepository) DeleteMany(ctx context.Context, owner string, match domain.StatusMatch) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM orders
		WHERE owner_id = $1 AND status = ANY($2)
	`, owner, match.Strings())
	if err != nil {
		return 0, fmt.Errorf("delete orders: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for delete orders: %w", err)
	}
	return int(affected), nil
}

func (r *orderRepository) LastSequence(ctx context.Context, owner string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var seq int64
	err := r.db.QueryRowContext(ctx, `
		SELECT last_seq FROM owner_sequences WHERE owner_id = $1
	`, owner).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select owner sequence: %w", err)
	}
	return seq, nil
}

// statusColumns раскладывает статус на колонки status и payment_method.
func statusColumns(status domain.Status) (string, sql.NullString) {
	method, ok := status.Method()
	return string(status.Kind()), sql.NullString{String: string(method), Valid: ok}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ domain.OrderRepository = (*orderRepository)(nil)
