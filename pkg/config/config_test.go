package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-vesting/pkg/rent"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, rent.Default(), cfg.RentParams())
	assert.Equal(t, logrus.InfoLevel, cfg.Level())

	id, err := cfg.Program()
	require.NoError(t, err)
	assert.Equal(t, DefaultProgramID, id.String())

	assert.Equal(t, filepath.Join(cfg.DataDir, "accounts"), cfg.AccountsStore().Path)
	assert.True(t, cfg.AccountsStore().SyncWrites)
	assert.Equal(t, filepath.Join(cfg.DataDir, "journal.db"), cfg.JournalStore().Path)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `DataDir = "/var/lib/x1-vesting"
LogLevel = "debug"
MetricsAddress = ":9100"

[rent]
LamportsPerByteYear = 1000
ExemptionThreshold = 1.5

[accounts]
SyncWrites = false
ValueLogFileMB = 16

[journal]
Path = "/tmp/journal.db"
NoSync = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/x1-vesting", cfg.DataDir)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, ":9100", cfg.MetricsAddress)
	assert.Equal(t, DefaultProgramID, cfg.ProgramID)

	r := cfg.RentParams()
	assert.EqualValues(t, 1000, r.LamportsPerByteYear)
	assert.Equal(t, 1.5, r.ExemptionThreshold)
	assert.EqualValues(t, rent.DefaultBurnPercent, r.BurnPercent)

	assert.False(t, cfg.AccountsStore().SyncWrites)
	assert.EqualValues(t, 16<<20, cfg.AccountsStore().ValueLogFileSize)
	assert.Equal(t, "/var/lib/x1-vesting/accounts", cfg.AccountsStore().Path)
	assert.Equal(t, "/tmp/journal.db", cfg.JournalStore().Path)
	assert.True(t, cfg.JournalStore().NoSync)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("Bogus = 1\n"), 0o644))
	_, err := Load(unknown)
	assert.ErrorContains(t, err, "Bogus")

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("DataDir = \n"), 0o644))
	_, err = Load(invalid)
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.Journal.Disabled = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = " " }},
		{"bad program id", func(c *Config) { c.ProgramID = "not base58!" }},
		{"short program id", func(c *Config) { c.ProgramID = "1111" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero rent", func(c *Config) { c.Rent.LamportsPerByteYear = 0 }},
		{"zero threshold", func(c *Config) { c.Rent.ExemptionThreshold = 0 }},
		{"burn over 100", func(c *Config) { c.Rent.BurnPercent = 101 }},
		{"negative value log", func(c *Config) { c.Accounts.ValueLogFileMB = -1 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.DataDir = ""
	cfg.Accounts.InMemory = true
	assert.NoError(t, cfg.Validate())
}
