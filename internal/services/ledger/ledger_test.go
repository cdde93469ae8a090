package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errActiveConflict = errors.New("duplicate key value violates unique constraint \"uq_subscriptions_one_active\"")

// memState снимок данных; транзакция работает с копией и публикует её при успехе.
type memState struct {
	identities map[int64]models.Identity
	subs       map[int64]models.Subscription
	nextSub    int64
}

func (s memState) clone() memState {
	out := memState{
		identities: make(map[int64]models.Identity, len(s.identities)),
		subs:       make(map[int64]models.Subscription, len(s.subs)),
		nextSub:    s.nextSub,
	}
	for k, v := range s.identities {
		out.identities[k] = v
	}
	for k, v := range s.subs {
		out.subs[k] = v
	}
	return out
}

type memStore struct {
	mu    sync.Mutex
	state memState
}

func newMemStore(identities ...models.Identity) *memStore {
	st := memState{
		identities: map[int64]models.Identity{},
		subs:       map[int64]models.Subscription{},
	}
	for _, i := range identities {
		st.identities[i.ID] = i
	}
	return &memStore{state: st}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := &memTx{st: m.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	m.state = work.st
	return nil
}

func (m *memStore) activeCount(identityID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.state.subs {
		if s.IdentityID == identityID && s.IsActive {
			n++
		}
	}
	return n
}

func (m *memStore) identity(id int64) models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.identities[id]
}

type memTx struct {
	st memState
}

func (t *memTx) LockIdentity(_ context.Context, id int64) (models.Identity, error) {
	i, ok := t.st.identities[id]
	if !ok {
		return models.Identity{}, repository.ErrNotFound
	}
	return i, nil
}

func (t *memTx) LockIdentityByUUID(_ context.Context, uuid string) (models.Identity, error) {
	for _, i := range t.st.identities {
		if i.UUID == uuid {
			return i, nil
		}
	}
	return models.Identity{}, repository.ErrNotFound
}

func (t *memTx) ActiveSubscription(_ context.Context, identityID int64) (models.Subscription, error) {
	for _, s := range t.st.subs {
		if s.IdentityID == identityID && s.IsActive {
			return s, nil
		}
	}
	return models.Subscription{}, repository.ErrNotFound
}

func (t *memTx) LockSubscription(_ context.Context, id int64) (models.Subscription, error) {
	s, ok := t.st.subs[id]
	if !ok {
		return models.Subscription{}, repository.ErrNotFound
	}
	return s, nil
}

func (t *memTx) InsertSubscription(_ context.Context, identityID int64, plan string, expiresAt time.Time) (models.Subscription, error) {
	for _, s := range t.st.subs {
		if s.IdentityID == identityID && s.IsActive {
			return models.Subscription{}, errActiveConflict
		}
	}
	t.st.nextSub++
	s := models.Subscription{
		ID:         t.st.nextSub,
		IdentityID: identityID,
		Plan:       plan,
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}
	t.st.subs[s.ID] = s
	return s, nil
}

func (t *memTx) ExtendSubscription(_ context.Context, id int64, plan string, expiresAt time.Time) (models.Subscription, error) {
	s, ok := t.st.subs[id]
	if !ok {
		return models.Subscription{}, repository.ErrNotFound
	}
	s.Plan = plan
	s.ExpiresAt = expiresAt
	s.Notified24h, s.Notified0h, s.ExpiredHandled = false, false, false
	t.st.subs[id] = s
	return s, nil
}

func (t *memTx) CloseSubscription(_ context.Context, id int64) error {
	s, ok := t.st.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.IsActive = false
	s.ExpiredHandled = true
	t.st.subs[id] = s
	return nil
}

func (t *memTx) DeactivateSubscriptions(_ context.Context, identityID int64) (int64, error) {
	var n int64
	for id, s := range t.st.subs {
		if s.IdentityID == identityID && s.IsActive {
			s.IsActive = false
			t.st.subs[id] = s
			n++
		}
	}
	return n, nil
}

func (t *memTx) SetTrialUsed(_ context.Context, id int64, used bool) error {
	i, ok := t.st.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	i.TrialUsed = used
	t.st.identities[id] = i
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const day = 24 * time.Hour

func newTestLedger(store Store) (*Ledger, *clock) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := New(store, 7*day, newNoopLogger())
	l.now = c.Now
	return l, c
}

var alice = models.Identity{ID: 1, UUID: "7d444840-9dc0-11d1-b245-5ffdce74fad2", ExternalID: "100"}

func TestActivateTrial(t *testing.T) {
	store := newMemStore(alice)
	l, c := newTestLedger(store)
	ctx := context.Background()

	sub, err := l.ActivateTrial(ctx, alice.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanTrial, sub.Plan)
	assert.Equal(t, c.Now().Add(7*day), sub.ExpiresAt)
	assert.True(t, store.identity(alice.ID).TrialUsed)

	_, err = l.ActivateTrial(ctx, alice.UUID)
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestActivateTrial_Errors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, l *Ledger)
		uuid    string
		wantErr error
	}{
		{
			name:    "unknown identity",
			prepare: func(*testing.T, *Ledger) {},
			uuid:    "missing",
			wantErr: ErrIdentityNotFound,
		},
		{
			name: "paid subscription running",
			prepare: func(t *testing.T, l *Ledger) {
				_, err := l.ActivatePaid(context.Background(), alice.UUID, "m1", 30*day)
				require.NoError(t, err)
			},
			uuid:    alice.UUID,
			wantErr: ErrSubscriptionActive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(newMemStore(alice))
			tt.prepare(t, l)
			_, err := l.ActivateTrial(context.Background(), tt.uuid)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestActivatePaid_ExtendsFromCurrentExpiry(t *testing.T) {
	store := newMemStore(alice)
	l, c := newTestLedger(store)
	ctx := context.Background()

	trial, err := l.ActivateTrial(ctx, alice.UUID)
	require.NoError(t, err)

	c.Advance(2 * day)
	paid, err := l.ActivatePaid(ctx, alice.UUID, "m1", 30*day)
	require.NoError(t, err)

	assert.Equal(t, trial.ID, paid.ID)
	assert.Equal(t, trial.ExpiresAt.Add(30*day), paid.ExpiresAt)
	assert.Equal(t, "m1", paid.Plan)
	assert.Equal(t, 1, store.activeCount(alice.ID))
}

func TestRenew_KeepsPlan(t *testing.T) {
	l, _ := newTestLedger(newMemStore(alice))
	ctx := context.Background()

	first, err := l.ActivatePaid(ctx, alice.UUID, "m3", 90*day)
	require.NoError(t, err)

	renewed, err := l.Renew(ctx, alice.UUID, 30*day)
	require.NoError(t, err)
	assert.Equal(t, "m3", renewed.Plan)
	assert.Equal(t, first.ExpiresAt.Add(30*day), renewed.ExpiresAt)

	_, err = l.Renew(ctx, alice.UUID, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestTrialExpiredThenRenewal(t *testing.T) {
	store := newMemStore(alice)
	l, c := newTestLedger(store)
	ctx := context.Background()

	trial, err := l.ActivateTrial(ctx, alice.UUID)
	require.NoError(t, err)

	c.Advance(8 * day)
	expired, err := l.Expire(ctx, alice.ID, trial.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, 0, store.activeCount(alice.ID))

	// повторное истечение ничего не меняет
	expired, err = l.Expire(ctx, alice.ID, trial.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	paid, err := l.ActivatePaid(ctx, alice.UUID, "m1", 30*day)
	require.NoError(t, err)
	assert.NotEqual(t, trial.ID, paid.ID)
	assert.Equal(t, c.Now().Add(30*day), paid.ExpiresAt)
	assert.Equal(t, 1, store.activeCount(alice.ID))

	_, err = l.ActivateTrial(ctx, alice.UUID)
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestRenew_AfterExpiryWithoutHandling(t *testing.T) {
	store := newMemStore(alice)
	l, c := newTestLedger(store)
	ctx := context.Background()

	first, err := l.ActivatePaid(ctx, alice.UUID, "m1", 30*day)
	require.NoError(t, err)

	c.Advance(31 * day)
	second, err := l.Renew(ctx, alice.UUID, 30*day)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, PlanRenewal, second.Plan)
	assert.Equal(t, c.Now().Add(30*day), second.ExpiresAt)
	assert.Equal(t, 1, store.activeCount(alice.ID))
}

func TestExpire_NotYetDue(t *testing.T) {
	l, _ := newTestLedger(newMemStore(alice))
	ctx := context.Background()

	sub, err := l.ActivatePaid(ctx, alice.UUID, "m1", 30*day)
	require.NoError(t, err)

	expired, err := l.Expire(ctx, alice.ID, sub.ID)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestConcurrentActivations_AtMostOneActive(t *testing.T) {
	store := newMemStore(alice)
	l, _ := newTestLedger(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.ActivateTrial(ctx, alice.UUID)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := l.ActivatePaid(ctx, alice.UUID, "m1", 30*day)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.True(t,
				errors.Is(err, ErrTrialAlreadyUsed) || errors.Is(err, ErrSubscriptionActive),
				"unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, store.activeCount(alice.ID))
}

func TestResetTrialAndReset(t *testing.T) {
	store := newMemStore(alice)
	l, _ := newTestLedger(store)
	ctx := context.Background()

	_, err := l.ActivateTrial(ctx, alice.UUID)
	require.NoError(t, err)

	require.NoError(t, l.ResetTrial(ctx, alice.UUID))
	assert.False(t, store.identity(alice.ID).TrialUsed)
	assert.Equal(t, 1, store.activeCount(alice.ID))

	_, err = l.Reset(ctx, alice.UUID)
	require.NoError(t, err)
	assert.Equal(t, 0, store.activeCount(alice.ID))

	_, err = l.ActivateTrial(ctx, alice.UUID)
	require.NoError(t, err)

	err = l.ResetTrial(ctx, "missing")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}
