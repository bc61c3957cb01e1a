package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"userManager/models"
)

// SQLiteUserRepository stores users in the `users` table of a SQLite database.
// Rows are ordered by their autoincrement id, which preserves insertion order.
type SQLiteUserRepository struct {
	db *sql.DB
}

func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

func (r *SQLiteUserRepository) Load(ctx context.Context) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT username, email, role FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	out := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.Username, &u.Email, &u.Role); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Add inserts u after validating its email. Like the JSON backend it does not
// enforce unique usernames.
func (r *SQLiteUserRepository) Add(ctx context.Context, u models.User) error {
	if !ValidateEmail(u.Email) {
		return &ValidationError{Field: "email", Value: u.Email}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO users (username, email, role) VALUES (?, ?, ?)`, u.Username, u.Email, u.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Remove deletes every row with the given username.
func (r *SQLiteUserRepository) Remove(ctx context.Context, username string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Username: username}
	}
	return nil
}

func (r *SQLiteUserRepository) Exists(ctx context.Context, username string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var found bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return found, nil
}

func (r *SQLiteUserRepository) List(ctx context.Context) ([]models.User, error) {
	return r.Load(ctx)
}
