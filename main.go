package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/customeros/mailobserver/config"
	"github.com/customeros/mailobserver/internal/database"
	"github.com/customeros/mailobserver/internal/enum"
	"github.com/customeros/mailobserver/internal/repository"
	"github.com/customeros/mailobserver/server"
)

func main() {
	app := &cli.App{
		Name:  "mailobserver",
		Usage: "Watch an IMAP mailbox and notify observers about new messages",
		Commands: []*cli.Command{
			{
				Name:   "watch",
				Usage:  "Start watching the configured mailbox",
				Action: watch,
			},
			{
				Name:   "state",
				Usage:  "Print the stored watermark",
				Action: printState,
			},
			{
				Name:   "reset",
				Usage:  "Forget the stored watermark so the next start primes again",
				Action: resetState,
			},
			{
				Name:   "migrate",
				Usage:  "Run database migrations for the postgres state backend",
				Action: migrate,
			},
		},
		Action: watch,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("mailobserver: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is empty")
	}
	return cfg, nil
}

func watch(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Mailobserver starting up...")

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}

	return srv.Run()
}

func printState(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closer, err := server.OpenStateStore(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	watermark, err := store.Load(context.Background())
	if err != nil {
		return err
	}
	if watermark == nil {
		fmt.Fprintf(c.App.Writer, "%s: no watermark stored\n", cfg.ImapConfig.Mailbox)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "%s: next uid %d, uidvalidity %d\n", cfg.ImapConfig.Mailbox, watermark.NextUID, watermark.UIDValidity)
	return nil
}

func resetState(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closer, err := server.OpenStateStore(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := store.Delete(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: watermark removed\n", cfg.ImapConfig.Mailbox)
	return nil
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if enum.StateBackend(cfg.WatcherConfig.StateBackend) != enum.StateBackendPostgres {
		log.Printf("State backend is %s, nothing to migrate", cfg.WatcherConfig.StateBackend)
		return nil
	}

	db, err := database.InitMailobserverDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := repository.MigrateMailobserverDB(cfg.Database, db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed successfully")
	return nil
}
