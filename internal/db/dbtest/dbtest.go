// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"fmt"
	"testing"

	"bazaar/internal/db"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh in-memory database private to the calling test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.OpenGorm(db.Config{DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	gdb.Logger = logger.Default.LogMode(logger.Silent)

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
