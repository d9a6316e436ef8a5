package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/api/models"
)

type CustomerStore struct {
	db *sql.DB
}

// NewCustomerStore creates a new CustomerStore instance.
func NewCustomerStore(db *sql.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

// CreateCustomer inserts a new customer. A duplicate email yields ErrCustomerExists.
func (s *CustomerStore) CreateCustomer(ctx context.Context, email string, hashedPassword []byte) (*models.Customer, error) {
	c := &models.Customer{}
	query := `
		INSERT INTO customers (email, hashed_password, role)
		VALUES ($1, $2, $3)
		RETURNING id, email, role, created_at, updated_at;
	`
	var role string
	err := s.db.QueryRowContext(ctx, query, email, hashedPassword, string(models.RoleCustomer)).Scan(
		&c.ID,
		&c.Email,
		&role,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("customer with email '%s': %w", email, ErrCustomerExists)
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	c.Role = models.Role(role)
	return c, nil
}

func (s *CustomerStore) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	c, err := s.scanOne(ctx, `
		SELECT id, email, hashed_password, role, created_at, updated_at
		FROM customers
		WHERE email = $1;
	`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer with email '%s': %w", email, ErrCustomerNotFound)
		}
		return nil, fmt.Errorf("failed to get customer by email: %w", err)
	}
	return c, nil
}

func (s *CustomerStore) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	c, err := s.scanOne(ctx, `
		SELECT id, email, hashed_password, role, created_at, updated_at
		FROM customers
		WHERE id = $1;
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %d: %w", id, ErrCustomerNotFound)
		}
		return nil, fmt.Errorf("failed to get customer by id: %w", err)
	}
	return c, nil
}

func (s *CustomerStore) scanOne(ctx context.Context, query string, arg any) (*models.Customer, error) {
	c := &models.Customer{}
	var role string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&c.ID,
		&c.Email,
		&c.HashedPassword,
		&role,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Role = models.Role(role)
	return c, nil
}
