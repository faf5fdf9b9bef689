package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfwise/pkg/domain"
)

const earliestPublishedYear = 1450

// BookInput carries the caller-editable fields of a book.
type BookInput struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	PublishedYear int    `json:"publishedYear"`
}

func validateBookInput(in BookInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return domain.InvalidArgument("title", "title is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		return domain.InvalidArgument("author", "author is required")
	}
	if strings.TrimSpace(in.ISBN) == "" {
		return domain.InvalidArgument("isbn", "isbn is required")
	}
	if in.PublishedYear < earliestPublishedYear || in.PublishedYear > time.Now().UTC().Year() {
		return domain.InvalidArgument("publishedYear", "published year is out of range")
	}
	return nil
}

// CreateBook validates and stores a new book, available by default.
func (a *App) CreateBook(ctx context.Context, in BookInput) (string, error) {
	if err := validateBookInput(in); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(in.Title),
		Author:        strings.TrimSpace(in.Author),
		ISBN:          strings.TrimSpace(in.ISBN),
		PublishedYear: in.PublishedYear,
		IsAvailable:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.AddBook(ctx, book); err != nil {
		return "", err
	}
	return book.ID, nil
}

// UpdateBook overwrites a book's descriptive fields. The availability flag
// is owned by the loan lifecycle and is never touched here.
func (a *App) UpdateBook(ctx context.Context, id string, in BookInput) error {
	if err := validateBookInput(in); err != nil {
		return err
	}
	existing, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("book")
	}
	existing.Title = strings.TrimSpace(in.Title)
	existing.Author = strings.TrimSpace(in.Author)
	existing.ISBN = strings.TrimSpace(in.ISBN)
	existing.PublishedYear = in.PublishedYear
	return a.store.UpdateBook(ctx, existing)
}

// DeleteBook removes a book unless it is currently on loan. The guard
// enforces the availability invariant from the deletion side: an active
// loan must always reference an existing book.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	_, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("book")
	}
	hasActive, err := a.store.HasActiveLoanForBook(ctx, id)
	if err != nil {
		return err
	}
	if hasActive {
		return domain.Conflict("cannot delete a book that is currently on loan")
	}
	return a.store.DeleteBook(ctx, id)
}

// ListBooks returns books with optional availability and author filters.
func (a *App) ListBooks(ctx context.Context, available *bool, author string) ([]domain.Book, error) {
	return a.store.ListBooks(ctx, available, author)
}

// GetBook retrieves one book by ID.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return a.store.GetBook(ctx, id)
}
