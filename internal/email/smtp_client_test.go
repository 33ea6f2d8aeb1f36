package email

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/config"
)

func testSMTPClient(authMethod string) *SMTPClient {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewSMTPClient(&config.AccountConfig{
		Name:         "work",
		Address:      "me@example.com",
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPAuth:     authMethod,
		SMTPUsername: "me@example.com",
		SMTPPassword: "secret",
	}, logger)
}

func TestSASLClientMechanisms(t *testing.T) {
	// Every auth method the discovery vocabulary can produce must map
	// to a working mechanism.
	for _, method := range []string{"", "plain", "PLAIN", "login", "oauth2", "cram-md5"} {
		client, err := testSMTPClient(method).saslClient()
		require.NoError(t, err, "method %q", method)
		assert.NotNil(t, client, "method %q", method)
	}
}

func TestSASLClientUnknownMethod(t *testing.T) {
	client, err := testSMTPClient("ntlm").saslClient()
	assert.Nil(t, client)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}
