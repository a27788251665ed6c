package intel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMatchAcrossSources(t *testing.T) {
	s := NewSet(zap.NewNop().Sugar())
	s.LoadSource("config_blacklist", []string{"203.0.113.7", "198.51.100.2"})
	s.LoadSource("feed_a", []string{"evil.example.com"})

	source, hit := s.Match("203.0.113.7", nil)
	require.True(t, hit)
	assert.Equal(t, "config_blacklist", source)

	source, hit = s.Match("evil.example.com", nil)
	require.True(t, hit)
	assert.Equal(t, "feed_a", source)

	_, hit = s.Match("192.0.2.1", nil)
	assert.False(t, hit)
}

func TestMatchRestrictedSources(t *testing.T) {
	s := NewSet(zap.NewNop().Sugar())
	s.LoadSource("a", []string{"indicator"})
	s.LoadSource("b", []string{"indicator"})

	source, hit := s.Match("indicator", []string{"b"})
	require.True(t, hit)
	assert.Equal(t, "b", source)

	_, hit = s.Match("indicator", []string{"missing"})
	assert.False(t, hit)

	// Unrestricted lookups pick the lexically first source.
	source, hit = s.Match("indicator", nil)
	require.True(t, hit)
	assert.Equal(t, "a", source)
}

func TestMatchNormalization(t *testing.T) {
	s := NewSet(zap.NewNop().Sugar())
	s.LoadSource("feed", []string{"  Evil.Example.COM  "})

	_, hit := s.Match("evil.example.com", nil)
	assert.True(t, hit)
	_, hit = s.Match("EVIL.EXAMPLE.COM", nil)
	assert.True(t, hit)
	_, hit = s.Match("", nil)
	assert.False(t, hit)
}

func TestReloadInvalidatesCache(t *testing.T) {
	s := NewSet(zap.NewNop().Sugar())
	s.LoadSource("feed", []string{"a.example"})

	_, hit := s.Match("b.example", nil)
	require.False(t, hit)

	s.LoadSource("feed", []string{"b.example"})
	_, hit = s.Match("b.example", nil)
	assert.True(t, hit, "cached misses must not survive a reload")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: osint_feed\nindicators:\n  - 203.0.113.9\n"), 0o600))

	s := NewSet(zap.NewNop().Sugar())
	require.NoError(t, s.LoadFile("fallback", path))

	source, hit := s.Match("203.0.113.9", nil)
	require.True(t, hit)
	assert.Equal(t, "osint_feed", source, "the file's declared name wins")
	assert.Equal(t, []string{"osint_feed"}, s.Sources())

	assert.Error(t, s.LoadFile("x", filepath.Join(dir, "missing.yaml")))
}
