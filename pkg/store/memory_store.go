package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"shelfwise/pkg/domain"
)

// MemoryStore keeps catalog state in-process, for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	books     map[string]domain.Book
	bookOrder []string
	loans     map[string]domain.Loan
	loanOrder []string
	users     map[string]domain.User
	email     map[string]string // normalized email -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books: make(map[string]domain.Book),
		loans: make(map[string]domain.Loan),
		users: make(map[string]domain.User),
		email: make(map[string]string),
	}
}

// AddBook stores a new book record and tracks insertion order.
func (m *MemoryStore) AddBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// UpdateBook replaces a stored book.
func (m *MemoryStore) UpdateBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[b.ID]; !ok {
		return domain.NotFound("book")
	}
	b.UpdatedAt = time.Now().UTC()
	m.books[b.ID] = b
	return nil
}

// DeleteBook removes a book. Loan history stays.
func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	filtered := m.bookOrder[:0]
	for _, item := range m.bookOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.bookOrder = filtered
	return nil
}

// ListBooks returns books in insertion order, with optional availability
// and case-insensitive author substring filters.
func (m *MemoryStore) ListBooks(_ context.Context, available *bool, author string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	author = strings.ToLower(strings.TrimSpace(author))
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if available != nil && b.IsAvailable != *available {
			continue
		}
		if author != "" && !strings.Contains(strings.ToLower(b.Author), author) {
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

// GetLoan retrieves a loan by ID.
func (m *MemoryStore) GetLoan(_ context.Context, id string) (domain.Loan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	return l, ok, nil
}

// ListActiveLoans returns loans without a return date, oldest first.
func (m *MemoryStore) ListActiveLoans(_ context.Context) ([]domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Loan, 0, len(m.loanOrder))
	for _, id := range m.loanOrder {
		if l, ok := m.loans[id]; ok && l.Active() {
			res = append(res, l)
		}
	}
	return res, nil
}

// HasActiveLoanForBook reports whether the book has an open loan.
func (m *MemoryStore) HasActiveLoanForBook(_ context.Context, bookID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.loans {
		if l.BookID == bookID && l.Active() {
			return true, nil
		}
	}
	return false, nil
}

// ApplyBorrow applies a borrow transition under the store lock. The
// availability flag is re-checked here so the stored state, not the
// caller's earlier read, decides the race.
func (m *MemoryStore) ApplyBorrow(_ context.Context, book domain.Book, loan domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.books[book.ID]
	if !ok {
		return domain.NotFound("book")
	}
	if !current.IsAvailable {
		return domain.Conflict("book not available")
	}
	current.IsAvailable = false
	current.UpdatedAt = time.Now().UTC()
	m.books[book.ID] = current
	if _, exists := m.loans[loan.ID]; !exists {
		m.loanOrder = append(m.loanOrder, loan.ID)
	}
	m.loans[loan.ID] = loan
	return nil
}

// ApplyReturn applies a return transition under the store lock, with both
// sides conditional on their current state.
func (m *MemoryStore) ApplyReturn(_ context.Context, book domain.Book, loan domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	currentLoan, ok := m.loans[loan.ID]
	if !ok {
		return domain.NotFound("loan")
	}
	if !currentLoan.Active() {
		return domain.Conflict("loan already returned")
	}
	currentBook, ok := m.books[book.ID]
	if !ok {
		return domain.NotFound("book")
	}
	if currentBook.IsAvailable {
		return domain.Conflict("book is not on loan")
	}
	currentLoan.ReturnDate = loan.ReturnDate
	m.loans[loan.ID] = currentLoan
	currentBook.IsAvailable = true
	currentBook.UpdatedAt = time.Now().UTC()
	m.books[book.ID] = currentBook
	return nil
}

// AddUser registers a user, enforcing the unique normalized email.
func (m *MemoryStore) AddUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.email[u.Email]; taken {
		return domain.Conflict("email already registered")
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByEmail looks up a user by normalized email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// ListUsers returns all users sorted by name.
func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}
