package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id UUID PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			pkp_public_key TEXT NOT NULL,
			pkp_token_id TEXT NOT NULL,
			app_id BIGINT NOT NULL,
			app_version INTEGER NOT NULL,
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			repeat_interval TEXT NOT NULL DEFAULT '',
			schedule_expr TEXT NOT NULL DEFAULT '',
			next_run_at TIMESTAMPTZ,
			last_run_at TIMESTAMPTZ,
			last_finished_at TIMESTAMPTZ,
			failed_at TIMESTAMPTZ,
			fail_reason TEXT NOT NULL DEFAULT '',
			locked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_scheduled_jobs_wallet UNIQUE (wallet_address)
		);
		CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due ON scheduled_jobs(disabled, next_run_at);

		CREATE TABLE IF NOT EXISTS swap_records (
			id UUID PRIMARY KEY,
			schedule_id UUID NOT NULL REFERENCES scheduled_jobs(id),
			wallet_address TEXT NOT NULL,
			pkp_public_key TEXT NOT NULL,
			pkp_token_id TEXT NOT NULL,
			deposits JSONB NOT NULL,
			redeems JSONB NOT NULL,
			top_vault JSONB,
			user_vault_positions JSONB NOT NULL,
			user_token_balances JSONB NOT NULL,
			success BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_swap_records_wallet_time ON swap_records(wallet_address, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_swap_records_schedule ON swap_records(schedule_id);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}

	log.Info().Msg("Database schema ensured.")
	return nil
}
