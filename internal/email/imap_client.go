package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	move "github.com/emersion/go-imap-move"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// RemoteMessage is a fetched copy of a remote draft.
type RemoteMessage struct {
	UID          uint32
	Body         []byte
	InternalDate time.Time
}

// IMAPSession is a stateful, authenticated IMAP connection scoped to
// one sync pass. It must be closed on every exit path; providers cap
// concurrent connections per account.
type IMAPSession struct {
	cfg      *config.AccountConfig
	client   *client.Client
	uidplus  *uidplus.Client
	move     *move.Client
	logger   *logrus.Logger
	selected string
	readOnly bool
}

// sessionTimeout bounds individual IMAP commands.
const sessionTimeout = 30 * time.Second

// DialIMAP connects and authenticates a new session for the account.
// Dial failures are connection errors; rejected credentials are auth
// errors and must not be retried without user action.
func DialIMAP(cfg *config.AccountConfig, logger *logrus.Logger) (*IMAPSession, error) {
	addr := fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort)
	tlsConfig := &tls.Config{
		ServerName: cfg.IMAPHost,
		MinVersion: tls.VersionTLS12,
	}

	var (
		cl  *client.Client
		err error
	)
	switch types.SecurityType(cfg.IMAPSecurity) {
	case types.SecuritySSL:
		cl, err = client.DialTLS(addr, tlsConfig)
	default:
		cl, err = client.Dial(addr)
		if err == nil && types.SecurityType(cfg.IMAPSecurity) == types.SecurityStartTLS {
			if tlsErr := cl.StartTLS(tlsConfig); tlsErr != nil {
				cl.Logout() //nolint:errcheck
				return nil, &ConnectionError{Op: "imap starttls", Err: tlsErr}
			}
		}
	}
	if err != nil {
		return nil, &ConnectionError{Op: "imap dial " + addr, Err: err}
	}

	cl.Timeout = sessionTimeout

	if err := cl.Login(cfg.IMAPUsername, cfg.IMAPPassword); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, &AuthError{Account: cfg.Name, Err: err}
	}

	logger.WithField("account", cfg.Name).Debug("IMAP session established")

	return &IMAPSession{
		cfg:     cfg,
		client:  cl,
		uidplus: uidplus.NewClient(cl),
		move:    move.NewClient(cl),
		logger:  logger,
	}, nil
}

// Close logs the session out. Safe to call on every exit path.
func (s *IMAPSession) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Logout()
	s.client = nil
	return err
}

// Mailboxes lists all mailbox names visible to the account.
func (s *IMAPSession) Mailboxes() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}

	if err := <-done; err != nil {
		return nil, &ProtocolError{Op: "imap list", Reason: "listing mailboxes failed", Err: err}
	}
	return names, nil
}

// ensureSelected selects a mailbox, reusing the current selection when
// it already matches with sufficient access.
func (s *IMAPSession) ensureSelected(mailbox string, readOnly bool) error {
	if s.selected == mailbox && (readOnly || !s.readOnly) {
		return nil
	}
	if _, err := s.client.Select(mailbox, readOnly); err != nil {
		s.selected = ""
		return &ProtocolError{Op: "imap select", Reason: fmt.Sprintf("selecting %s failed", mailbox), Err: err}
	}
	s.selected = mailbox
	s.readOnly = readOnly
	return nil
}

// ListUIDs returns the UIDs present in a mailbox, optionally limited to
// those above sinceUID.
func (s *IMAPSession) ListUIDs(mailbox string, sinceUID uint32) ([]uint32, error) {
	if err := s.ensureSelected(mailbox, true); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if sinceUID > 0 {
		seqSet := new(imap.SeqSet)
		seqSet.AddRange(sinceUID+1, 0)
		criteria.Uid = seqSet
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, &ProtocolError{Op: "imap search", Reason: "listing message uids failed", Err: err}
	}
	return uids, nil
}

// Append uploads a serialized draft and returns its UID. Servers with
// UIDPLUS report the UID directly (APPENDUID); otherwise the message is
// found again by its Message-ID header.
func (s *IMAPSession) Append(mailbox string, msg []byte, messageID string) (uint32, error) {
	flags := []string{imap.DraftFlag, imap.SeenFlag}
	now := time.Now()

	supported, err := s.uidplus.SupportUidPlus()
	if err == nil && supported {
		_, uid, err := s.uidplus.Append(mailbox, flags, now, bytes.NewBuffer(msg))
		if err != nil {
			return 0, &ProtocolError{Op: "imap append", Reason: fmt.Sprintf("append to %s rejected", mailbox), Err: err}
		}
		if uid != 0 {
			return uid, nil
		}
		// UIDPLUS advertised but APPENDUID omitted; fall through to
		// the search path.
	} else {
		if err := s.client.Append(mailbox, flags, now, bytes.NewBuffer(msg)); err != nil {
			return 0, &ProtocolError{Op: "imap append", Reason: fmt.Sprintf("append to %s rejected", mailbox), Err: err}
		}
	}

	return s.findByMessageID(mailbox, messageID)
}

// findByMessageID locates a message's UID via a header search.
func (s *IMAPSession) findByMessageID(mailbox, messageID string) (uint32, error) {
	if err := s.ensureSelected(mailbox, false); err != nil {
		return 0, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", messageID)

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return 0, &ProtocolError{Op: "imap search", Reason: "locating appended draft failed", Err: err}
	}
	if len(uids) == 0 {
		return 0, &ProtocolError{Op: "imap search", Reason: fmt.Sprintf("appended draft %s not found in %s", messageID, mailbox)}
	}
	return uids[len(uids)-1], nil
}

// Fetch retrieves the full message for a UID. Returns ErrNotFound when
// the UID no longer exists in the mailbox.
func (s *IMAPSession) Fetch(mailbox string, uid uint32) (*RemoteMessage, error) {
	if err := s.ensureSelected(mailbox, true); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	items := []imap.FetchItem{imap.FetchRFC822, imap.FetchInternalDate, imap.FetchUid}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}

	if err := <-done; err != nil {
		return nil, &ProtocolError{Op: "imap fetch", Reason: fmt.Sprintf("fetching uid %d failed", uid), Err: err}
	}
	if fetched == nil {
		return nil, ErrNotFound
	}

	body := readBody(fetched)
	if body == nil {
		return nil, &ProtocolError{Op: "imap fetch", Reason: fmt.Sprintf("uid %d returned no body", uid)}
	}

	return &RemoteMessage{
		UID:          fetched.Uid,
		Body:         body,
		InternalDate: fetched.InternalDate,
	}, nil
}

// readBody extracts the RFC822 literal from a fetched message. Servers
// key the body section differently, so every available section is
// tried.
func readBody(msg *imap.Message) []byte {
	for _, literal := range msg.Body {
		if literal == nil {
			continue
		}
		body, err := io.ReadAll(literal)
		if err == nil && len(body) > 0 {
			return body
		}
	}
	return nil
}

// Delete flags a message deleted and expunges the mailbox.
func (s *IMAPSession) Delete(mailbox string, uid uint32) error {
	if err := s.ensureSelected(mailbox, false); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return &ProtocolError{Op: "imap store", Reason: fmt.Sprintf("flagging uid %d deleted failed", uid), Err: err}
	}

	if err := s.client.Expunge(nil); err != nil {
		return &ProtocolError{Op: "imap expunge", Reason: fmt.Sprintf("expunging uid %d failed", uid), Err: err}
	}
	return nil
}

// Move relocates a message between mailboxes, using MOVE when the
// server supports it and copy+delete otherwise.
func (s *IMAPSession) Move(uid uint32, from, to string) error {
	if err := s.ensureSelected(from, false); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	if err := s.move.UidMove(seqSet, to); err != nil {
		return &ProtocolError{Op: "imap move", Reason: fmt.Sprintf("moving uid %d to %s failed", uid, to), Err: err}
	}
	s.selected = ""
	return nil
}
