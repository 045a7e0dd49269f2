package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Empty(t, cfg.Sites)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
http_addr: ":9090"
sites:
  - id: site-a
    name: Main Yard
  - id: site-b
    name: North Tower
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "redis:6380", cfg.RedisAddr, "env wins over file and defaults")
	require.Len(t, cfg.Sites, 2)
	assert.Equal(t, "Main Yard", cfg.Sites[0].Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSiteRegistry(t *testing.T) {
	reg := NewSiteRegistry([]SiteConfig{
		{ID: "site-b", Name: "North Tower"},
		{ID: "site-a", Name: "Main Yard"},
	})

	s, ok := reg.Lookup("site-a")
	require.True(t, ok)
	assert.Equal(t, "Main Yard", s.Name)

	_, ok = reg.Lookup("site-z")
	assert.False(t, ok)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "site-a", all[0].ID, "sorted by id")
}
