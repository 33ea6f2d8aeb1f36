package syncer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

// fakeSession is an in-memory stand-in for a remote Drafts mailbox.
type fakeSession struct {
	mailboxes []string
	messages  map[uint32][]byte
	nextUID   uint32

	appends     int
	appendDelay time.Duration
	deleted     []uint32
	appendErr   error
	deleteErr   error
	closed      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		mailboxes: []string{"INBOX", "Drafts", "Sent"},
		messages:  make(map[uint32][]byte),
		nextUID:   1,
	}
}

func (f *fakeSession) Mailboxes() ([]string, error) { return f.mailboxes, nil }

func (f *fakeSession) ListUIDs(_ string, _ uint32) ([]uint32, error) {
	uids := make([]uint32, 0, len(f.messages))
	for uid := range f.messages {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (f *fakeSession) Append(_ string, msg []byte, _ string) (uint32, error) {
	if f.appendDelay > 0 {
		time.Sleep(f.appendDelay)
	}
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	f.appends++
	uid := f.nextUID
	f.nextUID++
	f.messages[uid] = append([]byte(nil), msg...)
	return uid, nil
}

func (f *fakeSession) Fetch(_ string, uid uint32) (*email.RemoteMessage, error) {
	body, ok := f.messages[uid]
	if !ok {
		return nil, email.ErrNotFound
	}
	return &email.RemoteMessage{UID: uid, Body: body, InternalDate: time.Now()}, nil
}

func (f *fakeSession) Delete(_ string, uid uint32) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.messages[uid]; !ok {
		return email.ErrNotFound
	}
	delete(f.messages, uid)
	f.deleted = append(f.deleted, uid)
	return nil
}

func (f *fakeSession) Move(uid uint32, from, to string) error { return nil }

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// fakeDialer hands out one session, or a canned dial error.
type fakeDialer struct {
	session *fakeSession
	err     error
	dials   atomic.Int32
}

func (f *fakeDialer) DialSession(_ context.Context, _ *config.AccountConfig) (email.Session, error) {
	f.dials.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func testAccount() *config.AccountConfig {
	return &config.AccountConfig{
		Name:          "work",
		Address:       "me@example.com",
		CompanyID:     12,
		UserID:        34,
		DraftsMailbox: "Drafts",
		IMAPHost:      "imap.example.com",
		IMAPPort:      993,
		SMTPHost:      "smtp.example.com",
		SMTPPort:      587,
	}
}

func testEngine(t *testing.T, dialer Dialer) (*Engine, *cache.Store, int64) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := cache.NewCache(filepath.Join(t.TempDir(), "cache.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	store := cache.NewStore(c, logger)
	accountID, err := store.UpsertAccount(testAccount())
	require.NoError(t, err)

	return NewEngine(store, dialer, logger), store, accountID
}

func createDraft(t *testing.T, store *cache.Store, accountID int64) int64 {
	t.Helper()
	id, err := store.CreateDraft(&types.Draft{
		AccountID: accountID,
		CompanyID: 12,
		UserID:    34,
		To:        "alice@example.com",
		Subject:   "hello",
		BodyText:  "first revision",
	})
	require.NoError(t, err)
	return id
}

func TestSyncPassPushesNewDraft(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, d.SyncStatus)
	require.NotNil(t, d.ImapUID)
	assert.Equal(t, email.DigestMessage(session.messages[*d.ImapUID]), d.RemoteDigest)
	assert.Equal(t, 1, session.appends)
	assert.True(t, session.closed)
}

func TestSyncPassSkipsCleanSyncedDraft(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	// An unchanged draft is never re-appended.
	assert.Equal(t, 1, session.appends)

	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, d.SyncStatus)
}

func TestSyncPassReplacesEditedDraft(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	first, err := store.GetDraft(id)
	require.NoError(t, err)
	oldUID := *first.ImapUID

	require.NoError(t, store.UpdateDraftContent(id, "alice@example.com", "", "", "hello", "second revision", ""))
	require.NoError(t, store.MarkSyncPending(id))
	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, d.SyncStatus)
	require.NotNil(t, d.ImapUID)
	assert.NotEqual(t, oldUID, *d.ImapUID, "a replace appends a new message")
	assert.Contains(t, session.deleted, oldUID, "the superseded copy is removed")
	// Exactly one remote copy remains.
	assert.Len(t, session.messages, 1)
}

func TestSyncPassDetectsRemoteDrift(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)

	// Another client rewrites the remote copy.
	session.messages[*d.ImapUID] = []byte("rewritten elsewhere")

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	d, err = store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusConflict, d.SyncStatus)
	assert.Equal(t, "first revision", d.BodyText, "local content is preserved")
	assert.Contains(t, d.SyncError, "modified")
}

func TestSyncPassDetectsRemoteDeletion(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)

	delete(session.messages, *d.ImapUID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	d, err = store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusConflict, d.SyncStatus, "a vanished remote copy is never silently recreated")
	assert.Contains(t, d.SyncError, "deleted")
}

func TestSyncPassEditedDraftWithRemoteDriftConflicts(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)

	// Both sides change between passes.
	session.messages[*d.ImapUID] = []byte("rewritten elsewhere")
	require.NoError(t, store.UpdateDraftContent(id, "alice@example.com", "", "", "hello", "second revision", ""))
	require.NoError(t, store.MarkSyncPending(id))

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	d, err = store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusConflict, d.SyncStatus)
	assert.Equal(t, "second revision", d.BodyText)
	// The push never happened.
	assert.Equal(t, 1, session.appends)
}

func TestSyncPassMissingMailboxParksDrafts(t *testing.T) {
	session := newFakeSession()
	session.mailboxes = []string{"INBOX", "Sent"}
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	err := engine.SyncPass(context.Background(), testAccount())
	require.Error(t, err)
	assert.True(t, email.IsProtocolError(err))

	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, d.SyncStatus)
	assert.Contains(t, d.SyncError, "not found")
	assert.Zero(t, session.appends)
}

func TestSyncPassAuthFailureAborts(t *testing.T) {
	dialer := &fakeDialer{err: &email.AuthError{Account: "work", Err: errors.New("invalid credentials")}}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	err := engine.SyncPass(context.Background(), testAccount())
	require.Error(t, err)
	assert.True(t, email.IsAuthError(err))

	// The draft stays scheduled; nothing was marked failed.
	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusPending, d.SyncStatus)
}

func TestSyncPassAppendFailureMarksDraft(t *testing.T) {
	session := newFakeSession()
	session.appendErr = &email.ConnectionError{Op: "append", Err: errors.New("connection reset")}
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, d.SyncStatus)
	assert.Contains(t, d.SyncError, "connection reset")

	// The next pass reschedules and retries.
	session.appendErr = nil
	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err = store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, d.SyncStatus)
}

func TestSyncPassSerializedPerMailbox(t *testing.T) {
	session := newFakeSession()
	session.appendDelay = 100 * time.Millisecond
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	// Two overlapping passes on the same account: the second must wait
	// for the first, see the draft already synced, and not append a
	// duplicate.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = engine.SyncPass(context.Background(), testAccount())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, session.appends)

	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, d.SyncStatus)
}

func TestSyncPassCancelledBeforeDrafts(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)

	ids := []int64{
		createDraft(t, store, accountID),
		createDraft(t, store, accountID),
		createDraft(t, store, accountID),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.SyncPass(ctx, testAccount())
	require.ErrorIs(t, err, context.Canceled)

	// Nothing was pushed; every draft stays scheduled for the next pass.
	assert.Zero(t, session.appends)
	for _, id := range ids {
		d, err := store.GetDraft(id)
		require.NoError(t, err)
		assert.Equal(t, types.SyncStatusPending, d.SyncStatus)
	}
}

func TestResolveConflictKeepLocal(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)
	oldUID := *d.ImapUID
	session.messages[oldUID] = []byte("rewritten elsewhere")
	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	require.NoError(t, engine.ResolveConflict(context.Background(), testAccount(), id, KeepLocal))
	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	d, err = store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, d.SyncStatus)
	assert.Equal(t, "first revision", d.BodyText)
	// The remote rewrite was overwritten with the local revision.
	assert.Len(t, session.messages, 1)
	assert.NotContains(t, session.messages, oldUID)
}

func TestResolveConflictKeepRemote(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)

	remote, err := email.BuildDraftMessage(&types.Draft{
		MessageID: d.MessageID,
		Subject:   "remote subject",
		BodyText:  "remote revision",
		UpdatedAt: time.Now(),
	}, "me@example.com")
	require.NoError(t, err)
	session.messages[*d.ImapUID] = remote
	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	require.NoError(t, engine.ResolveConflict(context.Background(), testAccount(), id, KeepRemote))

	d, err = store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusPending, d.SyncStatus)
	assert.Equal(t, "remote subject", d.Subject)
	assert.Equal(t, "remote revision", strings.TrimSpace(d.BodyText))
	assert.Equal(t, email.DigestMessage(remote), d.RemoteDigest)
}

func TestResolveConflictKeepRemoteGone(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)
	delete(session.messages, *d.ImapUID)
	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))

	require.NoError(t, engine.ResolveConflict(context.Background(), testAccount(), id, KeepRemote))

	_, err = store.GetDraft(id)
	assert.ErrorIs(t, err, cache.ErrDraftNotFound)
}

func TestResolveConflictRequiresConflictState(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	err := engine.ResolveConflict(context.Background(), testAccount(), id, KeepLocal)
	assert.Error(t, err)
}

func TestDeleteDraftRemovesRemoteFirst(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)
	uid := *d.ImapUID

	require.NoError(t, engine.DeleteDraft(context.Background(), testAccount(), id))

	assert.NotContains(t, session.messages, uid)
	_, err = store.GetDraft(id)
	assert.ErrorIs(t, err, cache.ErrDraftNotFound)
}

func TestDeleteDraftToleratesMissingRemote(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	d, err := store.GetDraft(id)
	require.NoError(t, err)
	delete(session.messages, *d.ImapUID)

	require.NoError(t, engine.DeleteDraft(context.Background(), testAccount(), id))
	_, err = store.GetDraft(id)
	assert.ErrorIs(t, err, cache.ErrDraftNotFound)
}

func TestDeleteDraftKeepsRecordOnRemoteFailure(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	require.NoError(t, engine.SyncPass(context.Background(), testAccount()))
	session.deleteErr = &email.ConnectionError{Op: "delete", Err: errors.New("connection reset")}

	err := engine.DeleteDraft(context.Background(), testAccount(), id)
	require.Error(t, err)

	d, err := store.GetDraft(id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, d.SyncStatus)
	assert.Contains(t, d.SyncError, "remote delete failed")
}

func TestDeleteDraftLocalOnly(t *testing.T) {
	dialer := &fakeDialer{session: newFakeSession()}
	engine, store, accountID := testEngine(t, dialer)
	id := createDraft(t, store, accountID)

	// A never-synced draft needs no connection at all.
	require.NoError(t, engine.DeleteDraft(context.Background(), testAccount(), id))
	assert.Zero(t, dialer.dials.Load())
	_, err := store.GetDraft(id)
	assert.ErrorIs(t, err, cache.ErrDraftNotFound)
}
