package email

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
)

// Account pairs an account's configuration with its SMTP client. IMAP
// sessions are not held here: they are dialed per sync pass and closed
// with it.
type Account struct {
	Config *config.AccountConfig
	SMTP   *SMTPClient
}

// AccountManager manages multiple email accounts and dials IMAP
// sessions for the sync engine.
type AccountManager struct {
	accounts map[string]*Account
	logger   *logrus.Logger
}

// NewAccountManager creates a manager for all configured accounts.
func NewAccountManager(cfg *config.Config, logger *logrus.Logger) *AccountManager {
	manager := &AccountManager{
		accounts: make(map[string]*Account),
		logger:   logger,
	}

	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		manager.accounts[accCfg.Name] = &Account{
			Config: accCfg,
			SMTP:   NewSMTPClient(accCfg, logger),
		}
	}

	return manager
}

// GetAccount returns an account by name.
func (m *AccountManager) GetAccount(name string) (*Account, error) {
	account, exists := m.accounts[name]
	if !exists {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

// ListAccounts returns all account names.
func (m *AccountManager) ListAccounts() []string {
	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	return names
}

// DialSession opens a fresh IMAP session for a sync pass. Sessions are
// never pooled across passes: provider connection limits are
// per-account, and a pass owns its session end to end.
func (m *AccountManager) DialSession(ctx context.Context, acc *config.AccountConfig) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DialIMAP(acc, m.logger)
}

// Session is the verb-level contract a sync pass needs from an IMAP
// connection. *IMAPSession implements it; tests substitute fakes.
type Session interface {
	Mailboxes() ([]string, error)
	ListUIDs(mailbox string, sinceUID uint32) ([]uint32, error)
	Append(mailbox string, msg []byte, messageID string) (uint32, error)
	Fetch(mailbox string, uid uint32) (*RemoteMessage, error)
	Delete(mailbox string, uid uint32) error
	Move(uid uint32, from, to string) error
	Close() error
}
