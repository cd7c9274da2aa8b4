package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kansa/internal/model"
)

// CreateCustomer inserts a customer.
func (db *DB) CreateCustomer(ctx context.Context, c model.Customer) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO customers (id, name, email, account_type, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.Email, c.AccountType, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (db *DB) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	var c model.Customer
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, email, account_type, created_at FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.AccountType, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: customer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get customer: %w", err)
	}
	return &c, nil
}

// ListCustomers returns all customers ordered by name.
func (db *DB) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, email, account_type, created_at FROM customers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list customers: %w", err)
	}
	defer rows.Close()

	var customers []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.AccountType, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// InsertTransactions bulk-inserts transactions in one batch.
func (db *DB) InsertTransactions(ctx context.Context, txns []model.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range txns {
		batch.Queue(
			`INSERT INTO transactions (id, customer_id, amount, currency, merchant, category, occurred_at, labeled)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.CustomerID, t.Amount, t.Currency, t.Merchant, t.Category, t.OccurredAt, t.Labeled)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	for range txns {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("storage: insert transactions: %w", err)
		}
	}
	return nil
}

// TransactionsSince returns a customer's transactions at or after the given
// time, ordered by occurrence.
func (db *DB) TransactionsSince(ctx context.Context, customerID uuid.UUID, since time.Time) ([]model.Transaction, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, customer_id, amount, currency, merchant, category, occurred_at, labeled
		 FROM transactions WHERE customer_id = $1 AND occurred_at >= $2
		 ORDER BY occurred_at ASC`, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("storage: transactions since: %w", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.Amount, &t.Currency,
			&t.Merchant, &t.Category, &t.OccurredAt, &t.Labeled); err != nil {
			return nil, fmt.Errorf("storage: scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
