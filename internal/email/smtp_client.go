package email

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// SMTPClient submits outgoing mail for one account. Each Send opens a
// fresh short-lived session; SMTP submission has no state worth keeping
// between messages.
type SMTPClient struct {
	cfg    *config.AccountConfig
	logger *logrus.Logger
}

// OutgoingMessage is a fully composed message ready for submission.
type OutgoingMessage struct {
	From string
	To   []string
	Cc   []string
	Bcc  []string
	Raw  []byte
}

// NewSMTPClient creates an SMTP client for the account.
func NewSMTPClient(cfg *config.AccountConfig, logger *logrus.Logger) *SMTPClient {
	return &SMTPClient{cfg: cfg, logger: logger}
}

// Send submits a message. The result is binary: accepted by the server
// or rejected with a typed failure.
func (c *SMTPClient) Send(msg *OutgoingMessage) error {
	cl, err := c.dial()
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := c.authenticate(cl); err != nil {
		return err
	}

	from := msg.From
	if from == "" {
		from = c.cfg.Address
	}
	if err := cl.Mail(from, nil); err != nil {
		return &ProtocolError{Op: "smtp mail", Reason: "sender rejected", Err: err}
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)
	if len(recipients) == 0 {
		return &ProtocolError{Op: "smtp rcpt", Reason: "message has no recipients"}
	}
	for _, rcpt := range recipients {
		if err := cl.Rcpt(rcpt, nil); err != nil {
			return &ProtocolError{Op: "smtp rcpt", Reason: fmt.Sprintf("recipient %s rejected", rcpt), Err: err}
		}
	}

	w, err := cl.Data()
	if err != nil {
		return &ProtocolError{Op: "smtp data", Reason: "DATA command rejected", Err: err}
	}
	if _, err := w.Write(msg.Raw); err != nil {
		w.Close() //nolint:errcheck
		return &ConnectionError{Op: "smtp data", Err: err}
	}
	if err := w.Close(); err != nil {
		return &ProtocolError{Op: "smtp data", Reason: "message rejected", Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"account":    c.cfg.Name,
		"recipients": len(recipients),
	}).Info("Message submitted")

	return cl.Quit()
}

func (c *SMTPClient) dial() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	tlsConfig := &tls.Config{
		ServerName: c.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	var (
		cl  *smtp.Client
		err error
	)
	switch types.SecurityType(c.cfg.SMTPSecurity) {
	case types.SecuritySSL:
		cl, err = smtp.DialTLS(addr, tlsConfig)
	case types.SecurityStartTLS:
		cl, err = smtp.DialStartTLS(addr, tlsConfig)
	default:
		cl, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, &ConnectionError{Op: "smtp dial " + addr, Err: err}
	}
	return cl, nil
}

// authenticate negotiates SASL according to the account's configured
// mechanism. A rejected login is an auth error and pauses the account.
func (c *SMTPClient) authenticate(cl *smtp.Client) error {
	if c.cfg.SMTPPassword == "" {
		return nil
	}
	if ok, _ := cl.Extension("AUTH"); !ok {
		return &ProtocolError{Op: "smtp auth", Reason: "server does not advertise AUTH"}
	}

	client, err := c.saslClient()
	if err != nil {
		return err
	}

	if err := cl.Auth(client); err != nil {
		return &AuthError{Account: c.cfg.Name, Err: err}
	}
	return nil
}

// saslClient maps the configured auth method onto a SASL mechanism.
// cram-md5 has no client implementation in go-sasl, so it downgrades to
// plain; the connection is TLS-protected by the time AUTH runs.
func (c *SMTPClient) saslClient() (sasl.Client, error) {
	switch strings.ToLower(c.cfg.SMTPAuth) {
	case "", "plain":
		return sasl.NewPlainClient("", c.cfg.SMTPUsername, c.cfg.SMTPPassword), nil
	case "cram-md5":
		c.logger.WithField("account", c.cfg.Name).Warn("cram-md5 is not supported; authenticating with plain")
		return sasl.NewPlainClient("", c.cfg.SMTPUsername, c.cfg.SMTPPassword), nil
	case "login":
		return sasl.NewLoginClient(c.cfg.SMTPUsername, c.cfg.SMTPPassword), nil
	case "oauth2":
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: c.cfg.SMTPUsername,
			Token:    c.cfg.SMTPPassword,
			Host:     c.cfg.SMTPHost,
			Port:     c.cfg.SMTPPort,
		}), nil
	default:
		return nil, &ProtocolError{Op: "smtp auth", Reason: fmt.Sprintf("unsupported auth method %q", c.cfg.SMTPAuth)}
	}
}
