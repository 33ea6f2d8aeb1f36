package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/brandon/mailsync/pkg/types"
)

// Config holds the application configuration.
type Config struct {
	// Cache settings
	CachePath string `mapstructure:"cache_path"`
	LogLevel  string `mapstructure:"log_level"`

	// Sync settings
	PollIntervalSec int `mapstructure:"poll_interval_sec"`

	// Accounts
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig holds configuration for a single email account. The
// passwords arrive already decrypted from the surrounding application's
// credential layer and are scoped to this process.
type AccountConfig struct {
	Name      string `mapstructure:"name"`
	Address   string `mapstructure:"address"`
	CompanyID int64  `mapstructure:"company_id"`
	UserID    int64  `mapstructure:"user_id"`

	// DraftsMailbox is the remote folder drafts are reconciled against.
	DraftsMailbox string `mapstructure:"drafts_mailbox"`

	// IMAP settings
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPSecurity string `mapstructure:"imap_security"`
	IMAPUsername string `mapstructure:"imap_username"`
	IMAPPassword string `mapstructure:"imap_password"`

	// SMTP settings
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPSecurity string `mapstructure:"smtp_security"`
	SMTPAuth     string `mapstructure:"smtp_auth"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
}

// LoadConfig reads configuration from the given YAML file using Viper,
// with MAILSYNC_* environment variables overriding file values. A
// missing file is not an error; env-only configuration is supported.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("cache_path", "/data/mailsync.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("poll_interval_sec", 120)

	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		if acc.DraftsMailbox == "" {
			acc.DraftsMailbox = "Drafts"
		}
		if acc.IMAPPort == 0 {
			acc.IMAPPort = 993
		}
		if acc.SMTPPort == 0 {
			acc.SMTPPort = 587
		}
		if acc.IMAPSecurity == "" {
			acc.IMAPSecurity = string(types.SecuritySSL)
		}
		if acc.SMTPSecurity == "" {
			acc.SMTPSecurity = string(types.SecurityStartTLS)
		}
		if acc.SMTPAuth == "" {
			acc.SMTPAuth = "plain"
		}
		if acc.IMAPUsername == "" {
			acc.IMAPUsername = acc.Address
		}
		if acc.SMTPUsername == "" {
			acc.SMTPUsername = acc.Address
		}
	}

	return cfg, nil
}

// GetAccountByName finds an account by name.
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// AccountNames returns a list of all account names.
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}

	if c.PollIntervalSec < 10 {
		return fmt.Errorf("poll_interval_sec must be at least 10")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("duplicate account name: %s", acc.Name)
		}
		seen[acc.Name] = true

		if strings.Count(acc.Address, "@") != 1 {
			return fmt.Errorf("account %s: address must contain exactly one @", acc.Name)
		}
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.Name)
		}
		if acc.SMTPHost == "" {
			return fmt.Errorf("account %s: smtp_host is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.Name)
		}
		if acc.SMTPPort < 1 || acc.SMTPPort > 65535 {
			return fmt.Errorf("account %s: invalid smtp_port", acc.Name)
		}
		if !validSecurity(acc.IMAPSecurity) {
			return fmt.Errorf("account %s: invalid imap_security %q", acc.Name, acc.IMAPSecurity)
		}
		if !validSecurity(acc.SMTPSecurity) {
			return fmt.Errorf("account %s: invalid smtp_security %q", acc.Name, acc.SMTPSecurity)
		}
	}

	return nil
}

func validSecurity(s string) bool {
	switch types.SecurityType(s) {
	case types.SecuritySSL, types.SecurityStartTLS, types.SecurityNone:
		return true
	}
	return false
}
