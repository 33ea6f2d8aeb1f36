package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// ErrDraftNotFound is returned when a draft id does not exist.
var ErrDraftNotFound = errors.New("draft not found")

// IllegalTransitionError is returned when a status write is not a legal
// state-machine transition. Writes like local -> synced are bugs in the
// caller, not data.
type IllegalTransitionError struct {
	DraftID int64
	From    types.SyncStatus
	To      types.SyncStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("draft %d: illegal sync transition %s -> %s", e.DraftID, e.From, e.To)
}

// Store provides draft persistence. All sync-status writes go through
// the transition-validated helpers; no caller writes the column
// directly.
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a store instance.
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{cache: cache, logger: logger}
}

// UpsertAccount records an account row, keyed by name.
func (s *Store) UpsertAccount(acc *config.AccountConfig) (int64, error) {
	query := `
		INSERT INTO accounts (name, company_id, user_id, address, imap_host, imap_port, imap_username,
			smtp_host, smtp_port, smtp_username, drafts_mailbox, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			company_id = excluded.company_id,
			user_id = excluded.user_id,
			address = excluded.address,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_username = excluded.imap_username,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			smtp_username = excluded.smtp_username,
			drafts_mailbox = excluded.drafts_mailbox,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.cache.DB().Exec(query,
		acc.Name, acc.CompanyID, acc.UserID, acc.Address,
		acc.IMAPHost, acc.IMAPPort, acc.IMAPUsername,
		acc.SMTPHost, acc.SMTPPort, acc.SMTPUsername,
		acc.DraftsMailbox,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting account %s: %w", acc.Name, err)
	}
	return s.GetAccountID(acc.Name)
}

// GetAccountID returns the account id by name.
func (s *Store) GetAccountID(name string) (int64, error) {
	var id int64
	if err := s.cache.DB().Get(&id, "SELECT id FROM accounts WHERE name = ?", name); err != nil {
		return 0, fmt.Errorf("account not found: %s", name)
	}
	return id, nil
}

// CreateDraft inserts a new draft. New drafts start in the local state
// with no remote UID; a Message-ID is minted if the caller did not.
func (s *Store) CreateDraft(d *types.Draft) (int64, error) {
	if d.MessageID == "" {
		d.MessageID = fmt.Sprintf("<%s@mailsync.local>", uuid.NewString())
	}
	if d.ImapMailbox == "" {
		d.ImapMailbox = "Drafts"
	}
	d.SyncStatus = types.SyncStatusLocal
	d.ImapUID = nil

	query := `
		INSERT INTO drafts (account_id, company_id, user_id, message_id,
			to_addrs, cc_addrs, bcc_addrs, subject, body_text, body_html,
			imap_mailbox, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.cache.DB().Exec(query,
		d.AccountID, d.CompanyID, d.UserID, d.MessageID,
		d.To, d.Cc, d.Bcc, d.Subject, d.BodyText, d.BodyHTML,
		d.ImapMailbox, d.SyncStatus,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting draft: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading draft id: %w", err)
	}
	d.ID = id
	return id, nil
}

// GetDraft loads a draft by id.
func (s *Store) GetDraft(id int64) (*types.Draft, error) {
	d := &types.Draft{}
	err := s.cache.DB().Get(d, "SELECT * FROM drafts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading draft %d: %w", id, err)
	}
	return d, nil
}

// ListDraftsByStatus returns the account's drafts in any of the given
// statuses, oldest first.
func (s *Store) ListDraftsByStatus(accountID int64, statuses ...types.SyncStatus) ([]types.Draft, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, accountID)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, st)
	}

	query := fmt.Sprintf(
		"SELECT * FROM drafts WHERE account_id = ? AND sync_status IN (%s) ORDER BY updated_at ASC",
		strings.Join(placeholders, ", "),
	)

	var drafts []types.Draft
	if err := s.cache.DB().Select(&drafts, query, args...); err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	return drafts, nil
}

// UpdateDraftContent replaces the editable fields of a draft. Content
// edits do not change sync status by themselves; callers schedule a
// sync with MarkSyncPending.
func (s *Store) UpdateDraftContent(id int64, to, cc, bcc, subject, bodyText, bodyHTML string) error {
	result, err := s.cache.DB().Exec(`
		UPDATE drafts SET to_addrs = ?, cc_addrs = ?, bcc_addrs = ?,
			subject = ?, body_text = ?, body_html = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		to, cc, bcc, subject, bodyText, bodyHTML, id,
	)
	if err != nil {
		return fmt.Errorf("updating draft %d: %w", id, err)
	}
	return requireRow(result, id)
}

// MarkSyncPending schedules a draft for the next sync pass.
func (s *Store) MarkSyncPending(id int64) error {
	return s.transition(id, types.SyncStatusPending, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			"UPDATE drafts SET sync_status = ?, sync_error = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			types.SyncStatusPending, id,
		)
		return err
	})
}

// MarkSynced records a successful reconciliation: the remote UID, the
// digest of the pushed bytes, and the sync timestamp.
func (s *Store) MarkSynced(id int64, uid uint32, digest string, syncedAt time.Time) error {
	return s.transition(id, types.SyncStatusSynced, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			UPDATE drafts SET sync_status = ?, imap_uid = ?, remote_digest = ?,
				imap_synced_at = ?, sync_error = '', updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			types.SyncStatusSynced, uid, digest, syncedAt.UTC(), id,
		)
		return err
	})
}

// MarkConflict flags a draft as remotely modified. The local body is
// left untouched; the UID stays so the remote copy can be fetched for
// resolution.
func (s *Store) MarkConflict(id int64, reason string) error {
	return s.transition(id, types.SyncStatusConflict, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			"UPDATE drafts SET sync_status = ?, sync_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			types.SyncStatusConflict, reason, id,
		)
		return err
	})
}

// MarkSyncFailed records a failed push with its reason. Content is
// preserved; the next scheduled pass retries.
func (s *Store) MarkSyncFailed(id int64, reason string) error {
	return s.transition(id, types.SyncStatusFailed, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			"UPDATE drafts SET sync_status = ?, sync_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			types.SyncStatusFailed, reason, id,
		)
		return err
	})
}

// SetRemoteDigest overwrites the recorded remote digest. Clearing it
// forces the next push to skip drift detection (keep-local resolution).
func (s *Store) SetRemoteDigest(id int64, digest string) error {
	result, err := s.cache.DB().Exec("UPDATE drafts SET remote_digest = ? WHERE id = ?", digest, id)
	if err != nil {
		return fmt.Errorf("updating draft %d digest: %w", id, err)
	}
	return requireRow(result, id)
}

// ReplaceBody adopts remote content during keep-remote resolution: the
// body, subject and digest are replaced in one statement.
func (s *Store) ReplaceBody(id int64, subject, bodyText, bodyHTML, digest string) error {
	result, err := s.cache.DB().Exec(`
		UPDATE drafts SET subject = ?, body_text = ?, body_html = ?,
			remote_digest = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		subject, bodyText, bodyHTML, digest, id,
	)
	if err != nil {
		return fmt.Errorf("replacing draft %d body: %w", id, err)
	}
	return requireRow(result, id)
}

// DeleteDraftRecord removes the local row. Callers must have deleted
// the remote copy first; this method does not check.
func (s *Store) DeleteDraftRecord(id int64) error {
	result, err := s.cache.DB().Exec("DELETE FROM drafts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting draft %d: %w", id, err)
	}
	return requireRow(result, id)
}

// transition validates the status change against the draft's current
// state inside a transaction, then applies the write.
func (s *Store) transition(id int64, next types.SyncStatus, apply func(tx *sqlx.Tx) error) error {
	tx, err := s.cache.DB().Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current types.SyncStatus
	err = tx.Get(&current, "SELECT sync_status FROM drafts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDraftNotFound
	}
	if err != nil {
		return fmt.Errorf("reading draft %d status: %w", id, err)
	}

	if !current.CanTransitionTo(next) {
		return &IllegalTransitionError{DraftID: id, From: current, To: next}
	}

	if err := apply(tx); err != nil {
		return fmt.Errorf("updating draft %d: %w", id, err)
	}
	return tx.Commit()
}

func requireRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDraftNotFound
	}
	return nil
}
