package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"shelfwise/pkg/domain"
)

func seedBook(t *testing.T, s *MemoryStore, id, author string, available bool) domain.Book {
	t.Helper()
	book := domain.Book{
		ID:          id,
		Title:       "title-" + id,
		Author:      author,
		ISBN:        "isbn-" + id,
		IsAvailable: available,
	}
	if err := s.AddBook(context.Background(), book); err != nil {
		t.Fatalf("add book: %v", err)
	}
	return book
}

func TestMemoryStoreApplyBorrowIsArbiter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	book := seedBook(t, s, "b1", "Le Guin", true)

	loan := domain.Loan{ID: "l1", BookID: book.ID, UserID: "u1", LoanDate: time.Now().UTC()}
	lent := book
	lent.IsAvailable = false
	if err := s.ApplyBorrow(ctx, lent, loan); err != nil {
		t.Fatalf("apply borrow: %v", err)
	}

	stored, ok, err := s.GetBook(ctx, book.ID)
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if stored.IsAvailable {
		t.Fatalf("book should be unavailable after borrow")
	}

	// A second borrow decided against a stale read must lose at the store.
	err = s.ApplyBorrow(ctx, lent, domain.Loan{ID: "l2", BookID: book.ID, UserID: "u2", LoanDate: time.Now().UTC()})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second borrow expected conflict, got %v", err)
	}
	active, err := s.ListActiveLoans(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active loan, got %d", len(active))
	}
}

func TestMemoryStoreApplyReturnClosesLoanAndFreesBook(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	book := seedBook(t, s, "b1", "Le Guin", true)
	loanDate := time.Now().UTC()
	loan := domain.Loan{ID: "l1", BookID: book.ID, UserID: "u1", LoanDate: loanDate}
	lent := book
	lent.IsAvailable = false
	if err := s.ApplyBorrow(ctx, lent, loan); err != nil {
		t.Fatalf("apply borrow: %v", err)
	}

	returned := loanDate.Add(time.Hour)
	closed := loan
	closed.ReturnDate = &returned
	freed := lent
	freed.IsAvailable = true
	if err := s.ApplyReturn(ctx, freed, closed); err != nil {
		t.Fatalf("apply return: %v", err)
	}

	stored, _, _ := s.GetBook(ctx, book.ID)
	if !stored.IsAvailable {
		t.Fatalf("book should be available after return")
	}
	storedLoan, _, _ := s.GetLoan(ctx, loan.ID)
	if storedLoan.ReturnDate == nil || !storedLoan.ReturnDate.Equal(returned) {
		t.Fatalf("loan return date = %v, want %v", storedLoan.ReturnDate, returned)
	}

	// Replaying the same return must conflict, not silently succeed.
	err := s.ApplyReturn(ctx, freed, closed)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second return expected conflict, got %v", err)
	}

	has, err := s.HasActiveLoanForBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("has active loan: %v", err)
	}
	if has {
		t.Fatalf("no active loan expected after return")
	}
}

func TestMemoryStoreUpdateBookMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	book := seedBook(t, s, "b1", "Le Guin", true)
	if err := s.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}

	// An update racing a delete must surface NotFound, not no-op.
	book.Title = "renamed"
	err := s.UpdateBook(ctx, book)
	var notFoundErr *domain.NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Fatalf("update of deleted book expected NotFoundError, got %v", err)
	}
}

func TestMemoryStoreListBooksFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedBook(t, s, "b1", "Ursula K. Le Guin", true)
	seedBook(t, s, "b2", "Terry Pratchett", false)
	seedBook(t, s, "b3", "ursula vernon", true)

	all, err := s.ListBooks(ctx, nil, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all books = %d, want 3", len(all))
	}

	available := true
	avail, err := s.ListBooks(ctx, &available, "")
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(avail) != 2 {
		t.Fatalf("available books = %d, want 2", len(avail))
	}

	// Author filter is a case-insensitive substring match.
	byAuthor, err := s.ListBooks(ctx, nil, "URSULA")
	if err != nil {
		t.Fatalf("list by author: %v", err)
	}
	if len(byAuthor) != 2 {
		t.Fatalf("author-filtered books = %d, want 2", len(byAuthor))
	}

	both, err := s.ListBooks(ctx, &available, "le guin")
	if err != nil {
		t.Fatalf("list combined: %v", err)
	}
	if len(both) != 1 || both[0].ID != "b1" {
		t.Fatalf("combined filter = %v, want only b1", both)
	}
}

func TestMemoryStoreUserEmailUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com", RegisteredAt: time.Now().UTC()}
	if err := s.AddUser(ctx, u); err != nil {
		t.Fatalf("add user: %v", err)
	}

	dup := domain.User{ID: "u2", Name: "Other Ada", Email: "ada@example.com"}
	err := s.AddUser(ctx, dup)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("duplicate email expected conflict, got %v", err)
	}

	got, ok, err := s.GetUserByEmail(ctx, "ada@example.com")
	if err != nil || !ok {
		t.Fatalf("get by email: ok=%v err=%v", ok, err)
	}
	if got.ID != "u1" {
		t.Fatalf("email still bound to %s, want u1", got.ID)
	}
}

func TestMemoryStoreDeleteBookKeepsLoanHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	book := seedBook(t, s, "b1", "Le Guin", true)
	loanDate := time.Now().UTC()
	returned := loanDate.Add(time.Hour)
	loan := domain.Loan{ID: "l1", BookID: book.ID, UserID: "u1", LoanDate: loanDate, ReturnDate: &returned}
	lent := book
	lent.IsAvailable = false
	if err := s.ApplyBorrow(ctx, lent, domain.Loan{ID: "l1", BookID: book.ID, UserID: "u1", LoanDate: loanDate}); err != nil {
		t.Fatalf("apply borrow: %v", err)
	}
	freed := book
	if err := s.ApplyReturn(ctx, freed, loan); err != nil {
		t.Fatalf("apply return: %v", err)
	}

	if err := s.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, ok, _ := s.GetBook(ctx, book.ID); ok {
		t.Fatalf("book should be gone")
	}
	if _, ok, _ := s.GetLoan(ctx, "l1"); !ok {
		t.Fatalf("loan history should survive book deletion")
	}
}
