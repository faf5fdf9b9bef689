package app

import (
	"context"
	"time"

	"shelfwise/pkg/domain"
	"shelfwise/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store         store.Store
	ClockSkew     time.Duration
	clockOverride func() time.Time
}

// App sequences store reads, lifecycle engine decisions, and store writes.
// The engine decides; the store's atomic transitions arbitrate races.
type App struct {
	store  store.Store
	engine *domain.Engine
}

// New constructs the application around the given store.
func New(cfg Config) *App {
	opts := []domain.EngineOption{}
	if cfg.ClockSkew > 0 {
		opts = append(opts, domain.WithSkewTolerance(cfg.ClockSkew))
	}
	if cfg.clockOverride != nil {
		opts = append(opts, domain.WithClock(cfg.clockOverride))
	}
	return &App{
		store:  cfg.Store,
		engine: domain.NewEngine(opts...),
	}
}

// Borrow lends the book to the user: load, decide, persist atomically.
// The returned string is the new loan's ID.
func (a *App) Borrow(ctx context.Context, userID, bookID string, now time.Time) (string, error) {
	book, ok, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.NotFound("book")
	}
	updatedBook, loan, err := a.engine.Borrow(book, userID, now)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := a.store.ApplyBorrow(ctx, updatedBook, loan); err != nil {
		return "", err
	}
	return loan.ID, nil
}

// Return closes the loan and frees its book, again as one atomic store
// transition. A missing book behind an existing loan is surfaced as
// NotFound, signaling referential corruption rather than hiding it.
func (a *App) Return(ctx context.Context, loanID string, now time.Time) error {
	loan, ok, err := a.store.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("loan")
	}
	book, ok, err := a.store.GetBook(ctx, loan.BookID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("book")
	}
	updatedBook, updatedLoan, err := a.engine.Return(book, loan, now)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.store.ApplyReturn(ctx, updatedBook, updatedLoan)
}

// ListActiveLoans returns all open loans.
func (a *App) ListActiveLoans(ctx context.Context) ([]domain.Loan, error) {
	return a.store.ListActiveLoans(ctx)
}

// GetLoan retrieves one loan by ID.
func (a *App) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	return a.store.GetLoan(ctx, id)
}
