package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, int64(1001), cfg.Database.PRNStart)
	assert.Equal(t, 70, cfg.Enrollment.Capacity)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.Enrollment.Divisions)
	assert.Equal(t, "college.edu", cfg.Enrollment.CollegeDomain)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "ENROLLMENT_CAPACITY=5\nENROLLMENT_DIVISIONS=A, B\nCOLLEGE_DOMAIN=Uni.EDU\nPROFILE_CACHE_TTL=1m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Enrollment.Capacity)
	assert.Equal(t, []string{"A", "B"}, cfg.Enrollment.Divisions)
	assert.Equal(t, "uni.edu", cfg.Enrollment.CollegeDomain)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENROLLMENT_CAPACITY", "3")
	t.Setenv("DB_DRIVER", "POSTGRES")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Enrollment.Capacity)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:   DatabaseConfig{Driver: DriverSQLite},
			Enrollment: EnrollmentConfig{Capacity: 70, Divisions: []string{"1", "2", "3"}, CollegeDomain: "college.edu"},
		}
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"capacity too small": func(c *Config) { c.Enrollment.Capacity = 0 },
		"capacity too large": func(c *Config) { c.Enrollment.Capacity = 100 },
		"no divisions":       func(c *Config) { c.Enrollment.Divisions = nil },
		"duplicate division": func(c *Config) { c.Enrollment.Divisions = []string{"1", "1"} },
		"empty domain":       func(c *Config) { c.Enrollment.CollegeDomain = "" },
		"unknown driver":     func(c *Config) { c.Database.Driver = "mysql" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
