package repo

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type widget struct {
	ID   int
	Name string
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:repo_base?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Exec("DELETE FROM widgets") })
	return conn
}

func TestDBAttachesContext(t *testing.T) {
	db := openTestDB(t)
	base := NewBase(db)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	if got := base.DB(ctx).Statement.Context; got != ctx {
		t.Fatalf("context not attached, got %v", got)
	}
	if base.DB(nil) != db {
		t.Fatalf("nil context should return the raw connection")
	}
}

func TestConnAndBoundPreferTransaction(t *testing.T) {
	db := openTestDB(t)
	base := NewBase(db)

	if base.Bound(nil).db != db {
		t.Fatalf("Bound(nil) should keep the original connection")
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if base.Bound(tx).db != tx {
			t.Fatalf("Bound should switch to the transaction")
		}
		return base.Conn(context.Background(), tx).Create(&widget{ID: 1, Name: "inside"}).Error
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	got, err := First[widget](base.Conn(context.Background(), nil).Where("id = ?", 1))
	if err != nil || got == nil || got.Name != "inside" {
		t.Fatalf("expected committed row, got %+v err=%v", got, err)
	}
}

func TestFirstMapsMissingRowToNil(t *testing.T) {
	db := openTestDB(t)
	got, err := First[widget](db.Where("id = ?", 404))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil row, got %+v", got)
	}
}

func TestForUpdateIsNoopOnSQLite(t *testing.T) {
	db := openTestDB(t)
	if err := db.Create(&widget{ID: 7, Name: "locked"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := First[widget](ForUpdate(db).Where("id = ?", 7))
	if err != nil || got == nil {
		t.Fatalf("expected row through ForUpdate, got %+v err=%v", got, err)
	}
}
