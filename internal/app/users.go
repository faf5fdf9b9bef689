package app

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfwise/pkg/domain"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// UserInput carries registration fields.
type UserInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RegisterUser validates and stores a new user. Emails are normalized
// (trimmed, lower-cased) before the uniqueness check so the same address
// cannot register twice under different casing.
func (a *App) RegisterUser(ctx context.Context, in UserInput, now time.Time) (string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", domain.InvalidArgument("name", "name is required")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return "", domain.InvalidArgument("email", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return "", domain.InvalidArgument("email", "email format is invalid")
	}
	if _, exists, err := a.store.GetUserByEmail(ctx, email); err != nil {
		return "", err
	} else if exists {
		return "", domain.Conflict("email already registered")
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		RegisteredAt: now,
	}
	if err := a.store.AddUser(ctx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}

// ListUsers returns all registered users.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	return a.store.ListUsers(ctx)
}

// GetUser retrieves one user by ID.
func (a *App) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	return a.store.GetUserByID(ctx, id)
}
