package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailOrUserExists = errors.New("email or username already exists")
)

// User is the domain model, decoupled from the database schema.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
}

// Repository defines the account storage operations.
type Repository interface {
	CreateUser(ctx context.Context, email, username, hashedPassword string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

type postgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository opens the accounts database and verifies the
// connection.
func NewPostgresRepository(connStr string) (Repository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &postgresRepository{db: db}, nil
}

func (r *postgresRepository) CreateUser(ctx context.Context, email, username, hashedPassword string) (string, error) {
	query := `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id;`

	var userID string
	err := r.db.QueryRowContext(ctx, query, email, username, hashedPassword).Scan(&userID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			slog.Warn("Attempted to create user with duplicate email or username", "email", email, "username", username)
			return "", ErrEmailOrUserExists
		}
		slog.Error("Failed to create user in database", "error", err)
		return "", err
	}
	return userID, nil
}

func (r *postgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, username, password_hash
		FROM users
		WHERE email = $1;`

	var user User
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		slog.Error("Failed to get user by email from database", "error", err)
		return nil, err
	}
	return &user, nil
}
