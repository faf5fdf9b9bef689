package store

import "time"

// GORM models used for persistence.
type BookModel struct {
	ID            string `gorm:"primaryKey"`
	Title         string `gorm:"not null"`
	Author        string `gorm:"not null;index"`
	ISBN          string `gorm:"column:isbn;not null"`
	PublishedYear int    `gorm:"not null"`
	IsAvailable   bool   `gorm:"not null;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type LoanModel struct {
	ID         string     `gorm:"primaryKey"`
	BookID     string     `gorm:"not null;index:idx_loans_book_active"`
	UserID     string     `gorm:"not null;index"`
	LoanDate   time.Time  `gorm:"not null"`
	ReturnDate *time.Time `gorm:"index:idx_loans_book_active"`
}

type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	RegisteredAt time.Time
}
