package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base is embedded by every domain repository.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the bound connection with ctx attached. A nil ctx returns it untouched.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Conn prefers tx when the caller is already inside a transaction.
func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return b.DB(ctx)
	}
	return NewBase(tx).DB(ctx)
}

// Bound returns a Base over tx, or b when tx is nil.
func (b Base) Bound(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return NewBase(tx)
}

// ForUpdate adds SELECT ... FOR UPDATE on postgres. sqlite already
// serializes writers, and rejects the clause.
func ForUpdate(query *gorm.DB) *gorm.DB {
	if query.Dialector.Name() != "postgres" {
		return query
	}
	return query.Clauses(clause.Locking{Strength: "UPDATE"})
}

// First loads a single row. A missing row is (nil, nil).
func First[T any](query *gorm.DB) (*T, error) {
	var row T
	err := query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
