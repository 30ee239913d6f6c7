package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service issues and verifies identity tokens. The session layer consumes it
// only as "verify token, get user id".
type Service interface {
	Register(ctx context.Context, email, username, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	VerifyToken(token string) (string, error)
}

// Config holds the configuration needed by the auth service.
type Config struct {
	JWTSecret     string
	TokenDuration time.Duration
}

type service struct {
	repo   Repository
	config Config
}

func NewService(repo Repository, config Config) Service {
	return &service{
		repo:   repo,
		config: config,
	}
}

// Register creates a new account and returns its user id.
func (s *service) Register(ctx context.Context, email, username, password string) (string, error) {
	if email == "" || username == "" || len(password) < 8 {
		return "", errors.New("invalid input: email, username, and password (min 8 chars) are required")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return "", err
	}

	userID, err := s.repo.CreateUser(ctx, email, username, string(hashedPassword))
	if err != nil {
		return "", err
	}

	slog.Info("New user registered successfully", "userID", userID)
	return userID, nil
}

// Login verifies credentials and returns a signed token on success.
func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		// Same error as an unknown email, to prevent enumeration.
		return "", ErrUserNotFound
	}

	return s.generateJWT(user)
}

// Claims is the token payload.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"uname"`
	jwt.RegisteredClaims
}

func (s *service) generateJWT(user *User) (string, error) {
	expirationTime := time.Now().Add(s.config.TokenDuration)

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		slog.Error("Failed to sign JWT", "error", err)
		return "", err
	}
	return tokenString, nil
}

// VerifyToken validates a token's signature and expiry and returns the user
// id it was issued for. The websocket handshake calls this once per
// connection; identity is fixed for the connection's lifetime.
func (s *service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("token parse/validation error: %w", err)
	}
	if !token.Valid {
		return "", errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", errors.New("could not cast claims")
	}
	return claims.UserID, nil
}
