package testutil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to local test database port 55432", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(k, "")
		}
		assert.Equal(t, TestDBConfig{
			Host: "localhost", Port: "55432", User: "saga", Password: "saga", DBName: "saga",
		}, DefaultTestDBConfig())
	})

	t.Run("respects environment overrides", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
	})
}

func TestTestDBConfigDSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", DBName: "saga"}

	u, err := url.Parse(cfg.DSN("t_abc"))
	require.NoError(t, err)
	assert.Equal(t, "db:5432", u.Host)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "t_abc,public", u.Query().Get("search_path"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))

	u, err = url.Parse(cfg.DSN(""))
	require.NoError(t, err)
	assert.Empty(t, u.Query().Get("search_path"))
}

func TestRunConcurrent(t *testing.T) {
	errs := RunConcurrent(4, func(i int) error {
		if i == 2 {
			return assert.AnError
		}
		return nil
	})
	require.Len(t, errs, 4)
	assert.ErrorIs(t, errs[2], assert.AnError)
	assert.NoError(t, errs[0])
}

func TestSchemaName(t *testing.T) {
	a, b := schemaName(), schemaName()
	assert.Regexp(t, `^t_[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}
