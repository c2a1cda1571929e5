// Package config loads the ledger configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/journal"
	"github.com/fortiblox/x1-vesting/pkg/rent"
)

// DefaultProgramID is the vesting program address used when none is
// configured.
const DefaultProgramID = "Vest1ngRedesign1111111111111111111111111111"

// Config is the ledger configuration.
type Config struct {
	// DataDir holds the accounts database, the journal and snapshots.
	DataDir string `toml:"DataDir"`

	// ProgramID is the base58 vesting program address.
	ProgramID string `toml:"ProgramID"`

	// LogLevel is a logrus level name.
	LogLevel string `toml:"LogLevel"`

	// MetricsAddress serves prometheus metrics when non-empty.
	MetricsAddress string `toml:"MetricsAddress"`

	Rent     RentConfig     `toml:"rent"`
	Accounts AccountsConfig `toml:"accounts"`
	Journal  JournalConfig  `toml:"journal"`
}

// RentConfig mirrors the rent sysvar written at genesis.
type RentConfig struct {
	LamportsPerByteYear uint64  `toml:"LamportsPerByteYear"`
	ExemptionThreshold  float64 `toml:"ExemptionThreshold"`
	BurnPercent         uint8   `toml:"BurnPercent"`
}

// AccountsConfig tunes the BadgerDB accounts store.
type AccountsConfig struct {
	// Path overrides DataDir/accounts.
	Path       string `toml:"Path"`
	InMemory   bool   `toml:"InMemory"`
	SyncWrites bool   `toml:"SyncWrites"`

	// ValueLogFileMB caps badger value log files; zero keeps the store default.
	ValueLogFileMB int64 `toml:"ValueLogFileMB"`
}

// JournalConfig tunes the BoltDB journal.
type JournalConfig struct {
	// Path overrides DataDir/journal.db.
	Path     string `toml:"Path"`
	Disabled bool   `toml:"Disabled"`
	NoSync   bool   `toml:"NoSync"`
}

// Default returns the default configuration.
func Default() *Config {
	r := rent.Default()
	return &Config{
		DataDir:   "./x1-vesting-data",
		ProgramID: DefaultProgramID,
		LogLevel:  "info",
		Rent: RentConfig{
			LamportsPerByteYear: r.LamportsPerByteYear,
			ExemptionThreshold:  r.ExemptionThreshold,
			BurnPercent:         r.BurnPercent,
		},
		Accounts: AccountsConfig{
			SyncWrites: true,
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults; unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Save writes cfg to path, creating its directory.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" && !c.Accounts.InMemory {
		return errors.New("DataDir is required unless accounts are in memory")
	}
	if _, err := c.Program(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "LogLevel")
	}
	if c.Rent.LamportsPerByteYear == 0 {
		return errors.New("rent.LamportsPerByteYear must be positive")
	}
	if c.Rent.ExemptionThreshold <= 0 {
		return errors.New("rent.ExemptionThreshold must be positive")
	}
	if c.Accounts.ValueLogFileMB < 0 {
		return errors.New("accounts.ValueLogFileMB must not be negative")
	}
	if c.Rent.BurnPercent > 100 {
		return errors.New("rent.BurnPercent must be at most 100")
	}
	return nil
}

// Program returns the decoded program address.
func (c *Config) Program() (types.Pubkey, error) {
	id, err := types.PubkeyFromBase58(c.ProgramID)
	if err != nil {
		return types.Pubkey{}, errors.Wrapf(err, "ProgramID %q", c.ProgramID)
	}
	return id, nil
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// RentParams returns the rent parameters written at genesis.
func (c *Config) RentParams() rent.Rent {
	return rent.Rent{
		LamportsPerByteYear: c.Rent.LamportsPerByteYear,
		ExemptionThreshold:  c.Rent.ExemptionThreshold,
		BurnPercent:         c.Rent.BurnPercent,
	}
}

// AccountsStore returns the accounts store configuration.
func (c *Config) AccountsStore() accounts.BadgerDBConfig {
	path := c.Accounts.Path
	if path == "" {
		path = filepath.Join(c.DataDir, "accounts")
	}
	cfg := accounts.DefaultBadgerDBConfig(path)
	cfg.InMemory = c.Accounts.InMemory
	cfg.SyncWrites = c.Accounts.SyncWrites
	if c.Accounts.ValueLogFileMB > 0 {
		cfg.ValueLogFileSize = c.Accounts.ValueLogFileMB << 20
	}
	return cfg
}

// JournalStore returns the journal configuration.
func (c *Config) JournalStore() journal.Config {
	path := c.Journal.Path
	if path == "" {
		path = filepath.Join(c.DataDir, "journal.db")
	}
	cfg := journal.DefaultConfig(path)
	cfg.NoSync = c.Journal.NoSync
	return cfg
}

// SnapshotPath returns the default snapshot file location.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "snapshot.zst")
}
