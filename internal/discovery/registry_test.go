package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	cfg, ok := r.Lookup("gmail.com")
	require.True(t, ok)
	assert.Equal(t, "smtp.gmail.com", cfg.SMTP.Host)
	assert.Equal(t, "imap.gmail.com", cfg.IMAP.Host)
	assert.Equal(t, 993, cfg.IMAP.Port)
	assert.True(t, cfg.RequiresOAuth)
}

func TestRegistryLookupAlias(t *testing.T) {
	r := NewRegistry()

	canonical, ok := r.Lookup("outlook.com")
	require.True(t, ok)

	for _, alias := range []string{"hotmail.com", "live.com", "msn.com"} {
		cfg, ok := r.Lookup(alias)
		require.True(t, ok, "alias %s", alias)
		assert.Equal(t, canonical, cfg)
	}
}

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	r := NewRegistry()

	cfg, ok := r.Lookup("GMAIL.COM")
	require.True(t, ok)
	assert.Equal(t, "Gmail", cfg.Provider)
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry()

	cfg, ok := r.Lookup("example.org")
	assert.False(t, ok)
	assert.Nil(t, cfg)
}

func TestRegistryLookupReturnsCopy(t *testing.T) {
	r := NewRegistry()

	cfg, ok := r.Lookup("gmail.com")
	require.True(t, ok)
	cfg.SMTP.Host = "evil.example.com"
	cfg.Provider = "Mutated"

	again, ok := r.Lookup("gmail.com")
	require.True(t, ok)
	assert.Equal(t, "smtp.gmail.com", again.SMTP.Host)
	assert.Equal(t, "Gmail", again.Provider)
}

func TestRegistryDomains(t *testing.T) {
	r := NewRegistry()

	domains := r.Domains()
	assert.Contains(t, domains, "gmail.com")
	assert.Contains(t, domains, "yahoo.com")
	// Aliases are not canonical domains.
	assert.NotContains(t, domains, "googlemail.com")
}

func TestRegistryEntriesAreComplete(t *testing.T) {
	r := NewRegistry()

	for _, domain := range r.Domains() {
		cfg, ok := r.Lookup(domain)
		require.True(t, ok)
		assert.NotEmpty(t, cfg.SMTP.Host, "%s smtp host", domain)
		assert.NotZero(t, cfg.SMTP.Port, "%s smtp port", domain)
		assert.NotEmpty(t, cfg.IMAP.Host, "%s imap host", domain)
		assert.NotZero(t, cfg.IMAP.Port, "%s imap port", domain)
		assert.NotEmpty(t, cfg.Provider, "%s provider name", domain)
	}
}
