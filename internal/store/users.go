package store

import (
	"database/sql"
	"errors"
	"fmt"

	"playsync/internal/models"
)

const userColumns = `id, name, email, created_at, updated_at`

func scanUser(scanner interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := scanner.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// CreateUser creates a local viewer account with the given argon2id hash.
func (s *Store) CreateUser(name, email, passwordHash string) (*models.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (name, email, password_hash) VALUES (?, ?, ?)`,
		name, email, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting last insert id: %w", err)
	}
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("querying created user: %w", err)
	}
	return &u, nil
}

// GetUserByName retrieves a user and their password hash for login.
func (s *Store) GetUserByName(name string) (*models.User, string, error) {
	var u models.User
	var hash string
	err := s.db.QueryRow(
		`SELECT id, name, email, created_at, updated_at, password_hash FROM users WHERE name = ?`, name,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("user %q: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting user by name: %w", err)
	}
	return &u, hash, nil
}

// CountUsers reports how many accounts exist. Zero means setup is required.
func (s *Store) CountUsers() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}
