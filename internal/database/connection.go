package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	mailerrors "github.com/customeros/mailobserver/internal/errors"
)

type DatabaseConfig struct {
	Host            string `env:"MAILOBSERVER_POSTGRES_HOST"`
	Port            string `env:"MAILOBSERVER_POSTGRES_PORT" envDefault:"5432"`
	User            string `env:"MAILOBSERVER_POSTGRES_USER"`
	DBName          string `env:"MAILOBSERVER_POSTGRES_DB_NAME"`
	Password        string `env:"MAILOBSERVER_POSTGRES_PASSWORD"`
	MaxConn         int    `env:"MAILOBSERVER_POSTGRES_DB_MAX_CONN" envDefault:"10"`
	MaxIdleConn     int    `env:"MAILOBSERVER_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"2"`
	ConnMaxLifetime int    `env:"MAILOBSERVER_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILOBSERVER_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILOBSERVER_POSTGRES_SSL_MODE" envDefault:"require"`
}

func (c *DatabaseConfig) DSN() (string, error) {
	if err := validateConfig(c); err != nil {
		return "", err
	}

	portInt, err := strconv.Atoi(c.Port)
	if err != nil {
		return "", fmt.Errorf("invalid port number: %w", err)
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, portInt, c.User, c.Password, c.DBName, c.SSLMode,
	), nil
}

func NewConnection(dbConfig *DatabaseConfig) (*gorm.DB, error) {
	dsn, err := dbConfig.DSN()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(dbConfig.LogLevel)),
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToUpper(level) {
	case "SILENT":
		return logger.Silent
	case "ERROR":
		return logger.Error
	case "INFO":
		return logger.Info
	default:
		return logger.Warn
	}
}

func validateConfig(config *DatabaseConfig) error {
	missing := func(name string) error {
		return fmt.Errorf("%w: database %s", mailerrors.ErrConfigMissing, name)
	}
	switch {
	case config == nil:
		return missing("config")
	case config.Host == "":
		return missing("host")
	case config.Port == "":
		return missing("port")
	case config.User == "":
		return missing("user")
	case config.Password == "":
		return missing("password")
	case config.DBName == "":
		return missing("name")
	case config.SSLMode == "":
		return missing("SSLMode")
	}
	return nil
}
