package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSkewTolerance bounds how far a caller-supplied timestamp may drift
// from the engine's own clock before it is rejected.
const DefaultSkewTolerance = time.Second

// Engine decides whether a borrow or return may proceed and what each
// entity's post-state must be. It is pure decision logic: no persistence,
// no mutation of its arguments. Updated copies are returned and the caller
// owns the writes, so availability and loan state always change together
// or not at all.
type Engine struct {
	now       func() time.Time
	tolerance time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall-clock source, used by tests for
// deterministic skew checks.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSkewTolerance overrides the accepted clock drift window.
func WithSkewTolerance(tolerance time.Duration) EngineOption {
	return func(e *Engine) {
		if tolerance > 0 {
			e.tolerance = tolerance
		}
	}
}

// NewEngine constructs an engine reading the real UTC clock with the
// default skew tolerance.
func NewEngine(options ...EngineOption) *Engine {
	e := &Engine{
		now:       func() time.Time { return time.Now().UTC() },
		tolerance: DefaultSkewTolerance,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Borrow checks that book may be lent to userID at now and produces the
// post-state: the book copy marked unavailable and a new open loan.
// Checks run in a fixed order and complete before any result is built, so
// a failed borrow leaves nothing half-applied. now is validated against
// the engine's own clock within the configured tolerance to reject
// timestamps that are clearly stale or from the future.
func (e *Engine) Borrow(book Book, userID string, now time.Time) (Book, Loan, error) {
	if book.ID == "" {
		return Book{}, Loan{}, InvalidArgument("book", "book is required")
	}
	if userID == "" {
		return Book{}, Loan{}, InvalidArgument("userId", "user id is required")
	}
	if now.IsZero() {
		return Book{}, Loan{}, InvalidArgument("now", "timestamp is required")
	}
	serverNow := e.now()
	if now.After(serverNow.Add(e.tolerance)) {
		return Book{}, Loan{}, InvalidArgument("now", "timestamp cannot be in the future")
	}
	if now.Before(serverNow.Add(-e.tolerance)) {
		return Book{}, Loan{}, InvalidArgument("now", "timestamp cannot be in the past")
	}
	if !book.IsAvailable {
		return Book{}, Loan{}, Conflict("book not available")
	}

	book.IsAvailable = false
	loan := Loan{
		ID:       uuid.NewString(),
		BookID:   book.ID,
		UserID:   userID,
		LoanDate: now,
	}
	return book, loan, nil
}

// Return checks that loan may be closed against book at now and produces
// the post-state: the loan copy with ReturnDate set and the book copy
// marked available again. The availability flag is cross-checked against
// the loan so an inconsistent pair is rejected instead of silently
// repaired.
func (e *Engine) Return(book Book, loan Loan, now time.Time) (Book, Loan, error) {
	if book.ID == "" {
		return Book{}, Loan{}, InvalidArgument("book", "book is required")
	}
	if loan.ID == "" {
		return Book{}, Loan{}, InvalidArgument("loan", "loan is required")
	}
	if now.IsZero() {
		return Book{}, Loan{}, InvalidArgument("now", "timestamp is required")
	}
	if now.After(e.now().Add(e.tolerance)) {
		return Book{}, Loan{}, InvalidArgument("now", "timestamp cannot be in the future")
	}
	if loan.ReturnDate != nil {
		return Book{}, Loan{}, Conflict("loan already returned")
	}
	if book.IsAvailable {
		return Book{}, Loan{}, Conflict("book is not on loan")
	}
	if loan.BookID != book.ID {
		return Book{}, Loan{}, InvalidArgument("loan", "loan does not belong to this book")
	}
	if now.Before(loan.LoanDate.Add(-e.tolerance)) {
		return Book{}, Loan{}, InvalidArgument("now", "timestamp cannot be before loan date")
	}

	returnedAt := now
	loan.ReturnDate = &returnedAt
	book.IsAvailable = true
	return book, loan, nil
}
