package email

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailsync/pkg/types"
)

// NewMessageID generates an RFC 5322 Message-ID scoped to the sender's
// domain. Recorded on the draft so its remote copy can be located even
// on servers without UIDPLUS.
func NewMessageID(fromAddress string) string {
	domain := "mailsync.local"
	if _, d, ok := strings.Cut(fromAddress, "@"); ok && d != "" {
		domain = d
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// BuildDraftMessage serializes a draft into RFC 822 bytes suitable for
// an IMAP APPEND. The same bytes are hashed for conflict detection, so
// serialization must be deterministic for a given draft revision.
func BuildDraftMessage(d *types.Draft, from string) ([]byte, error) {
	if d.MessageID == "" {
		return nil, fmt.Errorf("draft %d has no message id", d.ID)
	}

	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	if d.To != "" {
		buf.WriteString(fmt.Sprintf("To: %s\r\n", d.To))
	}
	if d.Cc != "" {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", d.Cc))
	}
	if d.Bcc != "" {
		buf.WriteString(fmt.Sprintf("Bcc: %s\r\n", d.Bcc))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", d.Subject))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", d.MessageID))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", d.UpdatedAt.UTC().Format(time.RFC1123Z)))
	buf.WriteString("X-Draft: true\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")

	if d.BodyHTML != "" {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(d.BodyHTML)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(d.BodyText)
	}

	return buf.Bytes(), nil
}

// ParseDraftMessage extracts the subject and bodies from a raw remote
// message, used when the owner resolves a conflict by keeping the
// remote version.
func ParseDraftMessage(raw []byte) (subject, text, html string, err error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		// Unparseable remote content is still preserved verbatim.
		return "", string(raw), "", nil
	}
	return env.GetHeader("Subject"), env.Text, env.HTML, nil
}

// DigestMessage is the conflict-detection signal: a hex SHA-256 of the
// exact bytes appended to the remote mailbox. IMAP stores appended
// literals verbatim, so a digest mismatch on a later fetch means
// another client rewrote the draft.
func DigestMessage(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
