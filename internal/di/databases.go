package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/taxoracle/internal/config"
	"github.com/aristath/taxoracle/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens journal.db and applies its schema.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	// journal.db - append-only record of runs
	journalDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "journal.db"),
		Profile: database.ProfileLedger,
		Name:    "journal",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal database: %w", err)
	}
	if err := journalDB.Migrate(); err != nil {
		journalDB.Close()
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}

	log.Info().Str("path", journalDB.Path()).Msg("Journal database ready")
	return &Container{JournalDB: journalDB}, nil
}
