// Package db abre o banco relacional que hospeda o armazém de
// dispositivos do whatsmeow. Suporta PostgreSQL para produção e SQLite
// embarcado para instalações pequenas.
package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.mau.fi/whatsmeow/store/sqlstore"
	_ "modernc.org/sqlite"

	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/logger"
)

// DB representa a conexão com o banco do armazém de dispositivos
type DB struct {
	*sqlx.DB
	cfg    *config.DeviceStoreConfig
	logger *logger.ComponentLogger
}

// Connect abre a conexão e configura o pool de acordo com o dialeto
func Connect(cfg *config.DeviceStoreConfig) (*DB, error) {
	log := logger.ForComponent("db")

	if cfg.Dialect == "sqlite" {
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create device store dir: %w", err)
		}
	}

	log.Info().Str("dialect", cfg.Dialect).Msg("Connecting to device store database")

	db, err := sqlx.Open(cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.Dialect == "sqlite" {
		// SQLite tolera apenas um escritor por vez
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping device store: %w", err)
	}

	log.Info().Msg("Device store database connected")

	return &DB{DB: db, cfg: cfg, logger: log}, nil
}

// Close encerra a conexão com o banco
func (db *DB) Close() error {
	db.logger.Info().Msg("Closing device store database")
	return db.DB.Close()
}

// Container cria e migra o contêiner de dispositivos do whatsmeow
func (db *DB) Container(ctx context.Context) (*sqlstore.Container, error) {
	container := sqlstore.NewWithDB(db.DB.DB, db.cfg.Dialect, logger.GetWhatsAppLogger("sqlstore"))

	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade device store schema: %w", err)
	}

	db.logger.Info().Msg("Device store container ready")
	return container, nil
}

// Health verifica a saúde da conexão
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Tune aplica ajustes de sessão por dialeto. Falhas viram warning,
// nunca derrubam a inicialização
func (db *DB) Tune(ctx context.Context) {
	var statements []string
	switch db.cfg.Dialect {
	case "postgres":
		statements = []string{
			"SET statement_timeout = '30s'",
			"SET lock_timeout = '10s'",
			"SET idle_in_transaction_session_timeout = '60s'",
		}
	case "sqlite":
		statements = []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		}
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.logger.Warn().Err(err).Str("statement", stmt).Msg("Failed to apply tuning")
		}
	}
}
