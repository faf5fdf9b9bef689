package store

import (
	"context"

	"shelfwise/pkg/domain"
)

// Store defines persistence operations for books, loans, and users.
//
// ApplyBorrow and ApplyReturn persist one loan transition as a single
// atomic unit. Implementations must treat the book's current availability
// value as the arbiter: the book write is conditional on it, and a
// concurrent transition that got there first surfaces as a domain
// Conflict, never as two active loans for one book.
type Store interface {
	// books
	AddBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	UpdateBook(ctx context.Context, b domain.Book) error
	DeleteBook(ctx context.Context, id string) error
	ListBooks(ctx context.Context, available *bool, author string) ([]domain.Book, error)

	// loans
	GetLoan(ctx context.Context, id string) (domain.Loan, bool, error)
	ListActiveLoans(ctx context.Context) ([]domain.Loan, error)
	HasActiveLoanForBook(ctx context.Context, bookID string) (bool, error)

	// loan transitions
	ApplyBorrow(ctx context.Context, book domain.Book, loan domain.Loan) error
	ApplyReturn(ctx context.Context, book domain.Book, loan domain.Loan) error

	// users
	AddUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}
