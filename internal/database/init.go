package database

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func InitMailobserverDatabase(dbConfig *DatabaseConfig) (*gorm.DB, error) {
	db, err := NewConnection(dbConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to the database")
	}

	return db, nil
}
