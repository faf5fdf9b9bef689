package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shelfwise/pkg/domain"
)

const migrateLockID int64 = 84521701

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &LoanModel{}, &UserModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// One open loan per book, enforced in the schema as well as by the
		// conditional writes below.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_loan_per_book
			ON loan_models (book_id) WHERE return_date IS NULL
		`).Error; err != nil {
			return fmt.Errorf("ensure active loan index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// AddBook inserts a new book record.
func (s *GormStore) AddBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// UpdateBook overwrites a book's stored fields.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"title":          model.Title,
			"author":         model.Author,
			"isbn":           model.ISBN,
			"published_year": model.PublishedYear,
			"is_available":   model.IsAvailable,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	// A concurrent delete between read and write must not turn into a
	// silent no-op.
	if res.RowsAffected == 0 {
		return domain.NotFound("book")
	}
	return nil
}

// DeleteBook removes the book row. Loans referencing it are history and
// stay; the service layer refuses deletion while a loan is still active.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&BookModel{}, "id = ?", id).Error
}

// ListBooks returns books, optionally filtered by availability and a
// case-insensitive author substring.
func (s *GormStore) ListBooks(ctx context.Context, available *bool, author string) ([]domain.Book, error) {
	tx := s.db.WithContext(ctx).Order("created_at ASC")
	if available != nil {
		tx = tx.Where("is_available = ?", *available)
	}
	if author = strings.TrimSpace(author); author != "" {
		tx = tx.Where("author ILIKE ?", "%"+author+"%")
	}
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// GetLoan retrieves a loan.
func (s *GormStore) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	var model LoanModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, err
	}
	return loanFromModel(model), true, nil
}

// ListActiveLoans returns all loans without a return date.
func (s *GormStore) ListActiveLoans(ctx context.Context) ([]domain.Loan, error) {
	var models []LoanModel
	if err := s.db.WithContext(ctx).
		Where("return_date IS NULL").
		Order("loan_date ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		res = append(res, loanFromModel(m))
	}
	return res, nil
}

// HasActiveLoanForBook reports whether the book has an open loan.
func (s *GormStore) HasActiveLoanForBook(ctx context.Context, bookID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&LoanModel{}).
		Where("book_id = ? AND return_date IS NULL", bookID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ApplyBorrow persists a borrow transition in one transaction. The book
// write is a compare-and-swap on the availability flag: if another caller
// flipped it first, the transaction aborts with a Conflict and no loan row
// is created.
func (s *GormStore) ApplyBorrow(ctx context.Context, book domain.Book, loan domain.Loan) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BookModel{}).
			Where("id = ? AND is_available = ?", book.ID, true).
			Updates(map[string]any{
				"is_available": false,
				"updated_at":   time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Conflict("book not available")
		}
		model := loanToModel(loan)
		return tx.Create(&model).Error
	})
}

// ApplyReturn persists a return transition in one transaction. Both the
// loan close and the availability flip are conditional on their current
// state, so a replayed or raced return aborts as a Conflict.
func (s *GormStore) ApplyReturn(ctx context.Context, book domain.Book, loan domain.Loan) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&LoanModel{}).
			Where("id = ? AND return_date IS NULL", loan.ID).
			Update("return_date", loan.ReturnDate)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Conflict("loan already returned")
		}
		res = tx.Model(&BookModel{}).
			Where("id = ? AND is_available = ?", book.ID, false).
			Updates(map[string]any{
				"is_available": true,
				"updated_at":   time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Conflict("book is not on loan")
		}
		return nil
	})
}

// AddUser inserts a new user, surfacing duplicate normalized emails as a
// Conflict via the unique index.
func (s *GormStore) AddUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Conflict("email already registered")
		}
		return err
	}
	return nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by normalized email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by name.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		ISBN:          b.ISBN,
		PublishedYear: b.PublishedYear,
		IsAvailable:   b.IsAvailable,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:            m.ID,
		Title:         m.Title,
		Author:        m.Author,
		ISBN:          m.ISBN,
		PublishedYear: m.PublishedYear,
		IsAvailable:   m.IsAvailable,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func loanToModel(l domain.Loan) LoanModel {
	return LoanModel{
		ID:         l.ID,
		BookID:     l.BookID,
		UserID:     l.UserID,
		LoanDate:   l.LoanDate,
		ReturnDate: l.ReturnDate,
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:         m.ID,
		BookID:     m.BookID,
		UserID:     m.UserID,
		LoanDate:   m.LoanDate,
		ReturnDate: m.ReturnDate,
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		RegisteredAt: u.RegisteredAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		RegisteredAt: m.RegisteredAt,
	}
}
