package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/memtrace/pkg/config"
)

// openMockDB wraps an sqlmock connection in a GORM handle so the factory
// helpers can be exercised without a real server.
func openMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	return db, mock
}

func TestNewGormDB_UnsupportedType(t *testing.T) {
	db, err := NewGormDB(&config.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestRepositories_HealthCheck(t *testing.T) {
	db, mock := openMockDB(t)
	repos := NewRepositories(db, "mysql")

	mock.ExpectPing()
	require.NoError(t, repos.HealthCheck(context.Background()))

	mock.ExpectClose()
	require.NoError(t, repos.Close())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositories_Accessors(t *testing.T) {
	db, _ := openMockDB(t)
	repos := NewRepositories(db, "mysql")

	assert.NotNil(t, repos.Run)
	assert.NotNil(t, repos.DB())
	assert.Same(t, db, repos.GormDB())
}
