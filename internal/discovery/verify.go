package discovery

import (
	"crypto/tls"
	"fmt"
	"time"

	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// Verifier performs the live connection test required before a
// low-confidence configuration may be trusted. It speaks just enough of
// each protocol to prove the endpoint is a real mail server offering
// authentication; no credentials are used.
type Verifier struct {
	Timeout time.Duration
	logger  *logrus.Logger
}

// NewVerifier creates a Verifier with a sane dial timeout.
func NewVerifier(logger *logrus.Logger) *Verifier {
	return &Verifier{
		Timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Verify checks both legs of a published configuration. An error on
// either leg means the configuration must not be persisted as trusted.
func (v *Verifier) Verify(cfg *types.DiscoveredEmailConfig) error {
	if cfg == nil {
		return fmt.Errorf("no configuration to verify")
	}
	if err := v.verifySMTP(cfg.Outgoing); err != nil {
		return fmt.Errorf("outgoing server check failed: %w", err)
	}
	if err := v.verifyIMAP(cfg.Incoming); err != nil {
		return fmt.Errorf("incoming server check failed: %w", err)
	}
	return nil
}

func (v *Verifier) verifySMTP(s types.ServerSettings) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	tlsConfig := &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}

	var (
		c   *smtp.Client
		err error
	)
	switch s.Security {
	case types.SecuritySSL:
		c, err = smtp.DialTLS(addr, tlsConfig)
	case types.SecurityStartTLS:
		c, err = smtp.DialStartTLS(addr, tlsConfig)
	default:
		c, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer c.Close()
	c.CommandTimeout = v.Timeout

	if ok, _ := c.Extension("AUTH"); !ok {
		return fmt.Errorf("%s does not advertise AUTH", addr)
	}

	v.logger.WithField("addr", addr).Debug("SMTP endpoint verified")
	return c.Quit()
}

func (v *Verifier) verifyIMAP(s types.ServerSettings) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	tlsConfig := &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}

	var (
		c   *imapclient.Client
		err error
	)
	switch s.Security {
	case types.SecuritySSL:
		c, err = imapclient.DialTLS(addr, tlsConfig)
	default:
		c, err = imapclient.Dial(addr)
		if err == nil && s.Security == types.SecurityStartTLS {
			if tlsErr := c.StartTLS(tlsConfig); tlsErr != nil {
				c.Logout() //nolint:errcheck
				return fmt.Errorf("starting TLS with %s: %w", addr, tlsErr)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer c.Logout() //nolint:errcheck
	c.Timeout = v.Timeout

	caps, err := c.Capability()
	if err != nil {
		return fmt.Errorf("reading capabilities from %s: %w", addr, err)
	}
	if !caps["IMAP4rev1"] {
		return fmt.Errorf("%s does not advertise IMAP4rev1", addr)
	}

	v.logger.WithField("addr", addr).Debug("IMAP endpoint verified")
	return nil
}
