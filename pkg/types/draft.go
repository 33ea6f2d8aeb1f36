package types

import "time"

// SyncStatus tracks where a draft stands relative to its remote copy.
type SyncStatus string

const (
	// SyncStatusLocal means the draft exists only in the local database.
	SyncStatusLocal SyncStatus = "local"
	// SyncStatusPending means a sync pass has been scheduled for the draft.
	SyncStatusPending SyncStatus = "sync_pending"
	// SyncStatusSynced means the local and remote copies matched on the
	// last pass; ImapUID points at the remote message.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusConflict means another client changed (or removed) the
	// remote copy; the draft is held until the owner picks a side.
	SyncStatusConflict SyncStatus = "conflict"
	// SyncStatusFailed means the last push failed; the local content is
	// intact and the next pass retries.
	SyncStatusFailed SyncStatus = "sync_failed"
)

// legalTransitions is the draft sync state machine. Writes that are not
// listed here are rejected at the store boundary.
var legalTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusLocal:    {SyncStatusPending},
	SyncStatusPending:  {SyncStatusSynced, SyncStatusConflict, SyncStatusFailed},
	SyncStatusSynced:   {SyncStatusPending, SyncStatusConflict, SyncStatusFailed},
	SyncStatusConflict: {SyncStatusPending, SyncStatusFailed},
	SyncStatusFailed:   {SyncStatusPending},
}

// Valid reports whether s is one of the five known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusLocal, SyncStatusPending, SyncStatusSynced, SyncStatusConflict, SyncStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// state-machine transition. A no-op write (s == next) is always legal.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Draft is a locally persisted email draft. ImapUID is nil until the
// draft has been pushed to the remote Drafts mailbox at least once.
type Draft struct {
	ID        int64  `json:"id" db:"id"`
	AccountID int64  `json:"account_id" db:"account_id"`
	CompanyID int64  `json:"company_id" db:"company_id"`
	UserID    int64  `json:"user_id" db:"user_id"`
	MessageID string `json:"message_id" db:"message_id"`

	To       string `json:"to" db:"to_addrs"`
	Cc       string `json:"cc" db:"cc_addrs"`
	Bcc      string `json:"bcc" db:"bcc_addrs"`
	Subject  string `json:"subject" db:"subject"`
	BodyText string `json:"body_text" db:"body_text"`
	BodyHTML string `json:"body_html" db:"body_html"`

	ImapUID      *uint32    `json:"imap_uid,omitempty" db:"imap_uid"`
	ImapMailbox  string     `json:"imap_mailbox" db:"imap_mailbox"`
	ImapSyncedAt *time.Time `json:"imap_synced_at,omitempty" db:"imap_synced_at"`
	SyncStatus   SyncStatus `json:"sync_status" db:"sync_status"`
	RemoteDigest string     `json:"-" db:"remote_digest"`
	SyncError    string     `json:"sync_error,omitempty" db:"sync_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
