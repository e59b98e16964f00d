package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailobserver/internal/database"
	"github.com/customeros/mailobserver/internal/models"
)

type Repositories struct {
	MailboxSyncRepository *MailboxSyncRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		MailboxSyncRepository: NewMailboxSyncRepository(db),
	}
}

// MigrateMailobserverDB creates or updates the tables this service owns
// and applies the configured pool limits afterwards.
func MigrateMailobserverDB(dbConfig *database.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)
	err = db.AutoMigrate(
		&models.MailboxSyncState{},
	)

	if dbConfig.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	}
	if dbConfig.MaxConn > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)
	}

	return err
}
