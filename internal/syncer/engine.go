package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

// mailboxMissingReason distinguishes a renamed/removed remote Drafts
// folder from transient failures, so the UI can explain what happened
// instead of retrying forever.
const mailboxMissingReason = "drafts mailbox not found on server"

// Resolution is the owner's decision on a conflicted draft.
type Resolution string

const (
	// KeepLocal resubmits the local body, overwriting the remote edit.
	KeepLocal Resolution = "keep_local"
	// KeepRemote adopts the remote body, discarding the local edit.
	KeepRemote Resolution = "keep_remote"
)

// DraftStore is the persistence surface the engine needs. *cache.Store
// implements it.
type DraftStore interface {
	GetAccountID(name string) (int64, error)
	GetDraft(id int64) (*types.Draft, error)
	ListDraftsByStatus(accountID int64, statuses ...types.SyncStatus) ([]types.Draft, error)
	MarkSyncPending(id int64) error
	MarkSynced(id int64, uid uint32, digest string, syncedAt time.Time) error
	MarkConflict(id int64, reason string) error
	MarkSyncFailed(id int64, reason string) error
	SetRemoteDigest(id int64, digest string) error
	ReplaceBody(id int64, subject, bodyText, bodyHTML, digest string) error
	DeleteDraftRecord(id int64) error
}

// Dialer opens IMAP sessions for accounts. *email.AccountManager
// implements it.
type Dialer interface {
	DialSession(ctx context.Context, acc *config.AccountConfig) (email.Session, error)
}

// Engine reconciles local draft records against the remote Drafts
// mailbox. Passes for the same (account, mailbox) pair are serialized;
// different accounts sync fully in parallel.
type Engine struct {
	store  DraftStore
	dialer Dialer
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a sync engine.
func NewEngine(store DraftStore, dialer Dialer, logger *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		dialer: dialer,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// mailboxLock returns the serialization lock for one (account,
// mailbox) pair.
func (e *Engine) mailboxLock(account, mailbox string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := account + "\x00" + mailbox
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// SyncPass runs one reconciliation pass for an account. Pending drafts
// are pushed, synced drafts are checked for remote drift, and failures
// on one draft never abort its siblings. An authentication failure
// aborts the whole pass: retrying without user action cannot succeed.
func (e *Engine) SyncPass(ctx context.Context, acc *config.AccountConfig) error {
	lock := e.mailboxLock(acc.Name, acc.DraftsMailbox)
	lock.Lock()
	defer lock.Unlock()

	accountID, err := e.store.GetAccountID(acc.Name)
	if err != nil {
		return fmt.Errorf("resolving account %s: %w", acc.Name, err)
	}

	// Drafts parked in local or sync_failed are (re)scheduled at the
	// start of every pass.
	if err := e.schedulePending(accountID); err != nil {
		return err
	}

	session, err := e.dialer.DialSession(ctx, acc)
	if err != nil {
		if email.IsAuthError(err) {
			e.logger.WithField("account", acc.Name).WithError(err).
				Warn("Credentials rejected; account sync paused until the user intervenes")
		}
		return err
	}
	defer session.Close()

	// The user can rename the remote Drafts folder out of band, so its
	// existence is re-validated on every pass.
	if err := e.validateMailbox(session, accountID, acc.DraftsMailbox); err != nil {
		return err
	}

	drafts, err := e.store.ListDraftsByStatus(accountID, types.SyncStatusPending, types.SyncStatusSynced)
	if err != nil {
		return fmt.Errorf("listing drafts for %s: %w", acc.Name, err)
	}

	logger := e.logger.WithFields(logrus.Fields{
		"account": acc.Name,
		"mailbox": acc.DraftsMailbox,
		"drafts":  len(drafts),
	})
	logger.Debug("Sync pass started")

	for i := range drafts {
		// Cancellable between drafts, never mid-operation: aborting
		// inside a push could leave the remote copy half-written.
		if err := ctx.Err(); err != nil {
			return err
		}

		draft := &drafts[i]
		var draftErr error
		switch draft.SyncStatus {
		case types.SyncStatusPending:
			draftErr = e.pushDraft(session, draft, acc)
		case types.SyncStatusSynced:
			draftErr = e.checkRemote(session, draft)
		}

		if draftErr == nil {
			continue
		}
		if email.IsAuthError(draftErr) {
			return draftErr
		}
		e.logger.WithField("draft", draft.ID).WithError(draftErr).Warn("Draft sync failed")
		if markErr := e.store.MarkSyncFailed(draft.ID, draftErr.Error()); markErr != nil {
			e.logger.WithField("draft", draft.ID).WithError(markErr).Error("Failed to record sync failure")
		}
	}

	logger.Info("Sync pass finished")
	return nil
}

// schedulePending moves local and sync_failed drafts into sync_pending.
func (e *Engine) schedulePending(accountID int64) error {
	stale, err := e.store.ListDraftsByStatus(accountID, types.SyncStatusLocal, types.SyncStatusFailed)
	if err != nil {
		return fmt.Errorf("listing unscheduled drafts: %w", err)
	}
	for i := range stale {
		if err := e.store.MarkSyncPending(stale[i].ID); err != nil {
			return fmt.Errorf("scheduling draft %d: %w", stale[i].ID, err)
		}
	}
	return nil
}

// validateMailbox checks the drafts mailbox still exists; if not, every
// schedulable draft moves to sync_failed with a distinguishable reason.
func (e *Engine) validateMailbox(session email.Session, accountID int64, mailbox string) error {
	names, err := session.Mailboxes()
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == mailbox {
			return nil
		}
	}

	drafts, err := e.store.ListDraftsByStatus(accountID, types.SyncStatusPending)
	if err != nil {
		return fmt.Errorf("listing pending drafts: %w", err)
	}
	for i := range drafts {
		if err := e.store.MarkSyncFailed(drafts[i].ID, mailboxMissingReason); err != nil {
			e.logger.WithField("draft", drafts[i].ID).WithError(err).Error("Failed to park draft")
		}
	}
	return &email.ProtocolError{Op: "sync pass", Reason: mailboxMissingReason}
}

// pushDraft reconciles one pending draft with the remote mailbox.
func (e *Engine) pushDraft(session email.Session, draft *types.Draft, acc *config.AccountConfig) error {
	raw, err := email.BuildDraftMessage(draft, acc.Address)
	if err != nil {
		return err
	}

	if draft.ImapUID != nil {
		// A recorded digest means the remote copy must still match
		// what this engine last wrote; an empty digest is a forced
		// overwrite (keep-local resolution).
		if draft.RemoteDigest != "" {
			remote, err := session.Fetch(draft.ImapMailbox, *draft.ImapUID)
			if errors.Is(err, email.ErrNotFound) {
				return e.store.MarkConflict(draft.ID, "remote draft was deleted by another client")
			}
			if err != nil {
				return err
			}
			if email.DigestMessage(remote.Body) != draft.RemoteDigest {
				return e.store.MarkConflict(draft.ID, "remote draft was modified by another client")
			}
		}
	}

	// Append the new revision first. IMAP has no in-place update, and
	// deleting before the append is confirmed would risk losing the
	// draft on a crash between the two operations.
	newUID, err := session.Append(draft.ImapMailbox, raw, draft.MessageID)
	if err != nil {
		return err
	}

	if draft.ImapUID != nil && *draft.ImapUID != newUID {
		if err := session.Delete(draft.ImapMailbox, *draft.ImapUID); err != nil && !errors.Is(err, email.ErrNotFound) {
			// The new revision is live; a stale copy lingering beats
			// losing data. The next pass will not touch it.
			e.logger.WithFields(logrus.Fields{
				"draft":   draft.ID,
				"old_uid": *draft.ImapUID,
			}).WithError(err).Warn("Failed to delete superseded remote draft")
		}
	}

	return e.store.MarkSynced(draft.ID, newUID, email.DigestMessage(raw), time.Now())
}

// checkRemote verifies a clean synced draft against its remote copy.
// No append happens here: an unchanged draft must stay byte-identical
// remotely across passes.
func (e *Engine) checkRemote(session email.Session, draft *types.Draft) error {
	if draft.ImapUID == nil {
		return fmt.Errorf("draft %d is synced but has no uid", draft.ID)
	}

	remote, err := session.Fetch(draft.ImapMailbox, *draft.ImapUID)
	if errors.Is(err, email.ErrNotFound) {
		return e.store.MarkConflict(draft.ID, "remote draft was deleted by another client")
	}
	if err != nil {
		return err
	}

	if email.DigestMessage(remote.Body) != draft.RemoteDigest {
		return e.store.MarkConflict(draft.ID, "remote draft was modified by another client")
	}
	return nil
}

// ResolveConflict applies the owner's decision to a conflicted draft
// and resubmits it as a normal sync.
func (e *Engine) ResolveConflict(ctx context.Context, acc *config.AccountConfig, draftID int64, res Resolution) error {
	draft, err := e.store.GetDraft(draftID)
	if err != nil {
		return err
	}
	if draft.SyncStatus != types.SyncStatusConflict {
		return fmt.Errorf("draft %d is not in conflict (status %s)", draftID, draft.SyncStatus)
	}

	switch res {
	case KeepLocal:
		// Clearing the digest makes the next push skip drift
		// detection and overwrite the remote copy.
		if err := e.store.SetRemoteDigest(draftID, ""); err != nil {
			return err
		}
		return e.store.MarkSyncPending(draftID)

	case KeepRemote:
		if draft.ImapUID == nil {
			return fmt.Errorf("draft %d has no remote copy to keep", draftID)
		}
		session, err := e.dialer.DialSession(ctx, acc)
		if err != nil {
			return err
		}
		defer session.Close()

		remote, err := session.Fetch(draft.ImapMailbox, *draft.ImapUID)
		if errors.Is(err, email.ErrNotFound) {
			// The chosen side no longer exists anywhere but here;
			// honoring the choice means dropping the local record.
			return e.store.DeleteDraftRecord(draftID)
		}
		if err != nil {
			return err
		}

		subject, text, html, err := email.ParseDraftMessage(remote.Body)
		if err != nil {
			return err
		}
		if err := e.store.ReplaceBody(draftID, subject, text, html, email.DigestMessage(remote.Body)); err != nil {
			return err
		}
		return e.store.MarkSyncPending(draftID)

	default:
		return fmt.Errorf("unknown resolution %q", res)
	}
}

// DeleteDraft removes a draft everywhere, remote first. If the remote
// deletion fails the local record is kept in sync_failed so no remote
// copy is ever orphaned without a trace.
func (e *Engine) DeleteDraft(ctx context.Context, acc *config.AccountConfig, draftID int64) error {
	draft, err := e.store.GetDraft(draftID)
	if err != nil {
		return err
	}

	if draft.ImapUID != nil {
		session, err := e.dialer.DialSession(ctx, acc)
		if err != nil {
			if markErr := e.store.MarkSyncFailed(draftID, "remote delete failed: "+err.Error()); markErr != nil {
				e.logger.WithField("draft", draftID).WithError(markErr).Error("Failed to record delete failure")
			}
			return err
		}
		defer session.Close()

		if err := session.Delete(draft.ImapMailbox, *draft.ImapUID); err != nil && !errors.Is(err, email.ErrNotFound) {
			if markErr := e.store.MarkSyncFailed(draftID, "remote delete failed: "+err.Error()); markErr != nil {
				e.logger.WithField("draft", draftID).WithError(markErr).Error("Failed to record delete failure")
			}
			return err
		}
	}

	return e.store.DeleteDraftRecord(draftID)
}
