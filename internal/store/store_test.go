package store

import (
	"database/sql"
	"testing"

	"github.com/alumnihub/alumnihub/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestMember(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO members (name, email) VALUES ('Test', ?)", email)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}
