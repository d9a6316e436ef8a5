package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront/api/models"
)

type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// CreateOrder records an order and its items in one transaction.
func (s *OrderStore) CreateOrder(ctx context.Context, customerID int64, items []models.OrderItem) (_ *models.Order, err error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order has no items")
	}

	order := &models.Order{CustomerID: customerID}
	for _, it := range items {
		order.TotalCents += it.UnitCents * int64(it.Quantity)
		order.ItemCount += it.Quantity
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin order: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (customer_id, total_cents, item_count)
		VALUES ($1, $2, $3)
		RETURNING id, created_at;
	`, customerID, order.TotalCents, order.ItemCount).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, it := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_cents)
			VALUES ($1, $2, $3, $4);
		`, order.ID, it.ProductID, it.Quantity, it.UnitCents)
		if err != nil {
			return nil, fmt.Errorf("failed to add product %d to order: %w", it.ProductID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	return order, nil
}
