package repository

import (
	"testing"

	"gorm.io/gorm"

	"shc-verification-service/internal/testutil"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.NewSQLiteDB(t)
}
