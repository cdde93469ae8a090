package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/gateway-keeper/internal/cache"
	"github.com/magabrotheeeer/gateway-keeper/internal/gateway"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertCredential(ctx context.Context, c models.Credential) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockStore) ActiveSubscription(ctx context.Context, identityID int64) (models.Subscription, error) {
	args := m.Called(ctx, identityID)
	return args.Get(0).(models.Subscription), args.Error(1)
}

// entitled абонент с активной подпиской до exp.
func (m *mockStore) entitled(exp time.Time) {
	m.On("ActiveSubscription", mock.Anything, identity.ID).
		Return(models.Subscription{ID: 11, IdentityID: identity.ID, ExpiresAt: exp, IsActive: true}, nil)
}

func (m *mockStore) notEntitled() {
	m.On("ActiveSubscription", mock.Anything, identity.ID).
		Return(models.Subscription{}, repository.ErrNotFound)
}

func (m *mockStore) records() map[int64]models.Credential {
	out := map[int64]models.Credential{}
	for _, call := range m.Calls {
		if call.Method != "UpsertCredential" {
			continue
		}
		c := call.Arguments.Get(1).(models.Credential)
		out[c.NodeID] = c
	}
	return out
}

// fakeGateway узел, поведение которого задаётся функциями.
type fakeGateway struct {
	name   string
	ensure func(ctx context.Context) error
	del    func(ctx context.Context) error

	mu      sync.Mutex
	calls   int
	deletes int
	expiry  time.Time
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) EnsureCredential(ctx context.Context, identity models.Identity, expiry time.Time) (string, error) {
	f.mu.Lock()
	f.calls++
	f.expiry = expiry
	f.mu.Unlock()
	if f.ensure != nil {
		if err := f.ensure(ctx); err != nil {
			return "", err
		}
	}
	return identity.UUID, nil
}

func (f *fakeGateway) DeleteCredential(ctx context.Context, _ models.Identity) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	if f.del != nil {
		return f.del(ctx)
	}
	return nil
}

func sourceOf(gws map[int64]*fakeGateway) ClientSource {
	return func(node models.Node) (Gateway, error) {
		g, ok := gws[node.ID]
		if !ok {
			return nil, errors.New("no client")
		}
		return g, nil
	}
}

func newLocker(t *testing.T) (Locker, *cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := &cache.Cache{Db: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = c.Close() })
	return RedisLocker(c, time.Minute), c
}

var (
	identity = models.Identity{ID: 7, UUID: "0b5c1a2e-1111-4d7e-9a0a-6f3c2b1d0e9f", ExternalID: "42"}
	nodes    = []models.Node{
		{ID: 1, Name: "de-1"},
		{ID: 2, Name: "nl-1"},
		{ID: 3, Name: "fi-1"},
	}
)

func TestReconcile_PartialFailure(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)

	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	store.entitled(expiry)

	authErr := &gateway.Error{Kind: gateway.ErrAuth, Node: "nl-1", Op: "login", Err: errors.New("rejected")}
	gws := map[int64]*fakeGateway{
		1: {name: "de-1"},
		2: {name: "nl-1", ensure: func(context.Context) error { return authErr }},
		3: {name: "fi-1", ensure: func(context.Context) error { return gateway.ErrTransient }},
	}
	locker, _ := newLocker(t)
	r := New(sourceOf(gws), store, locker, Options{NodeTimeout: time.Second}, newNoopLogger())

	res := r.Reconcile(context.Background(), identity, expiry, nodes)

	require.Len(t, res, 3)
	assert.Equal(t, 1, res.Succeeded())
	assert.Equal(t, 2, res.Failed())
	assert.NoError(t, res[1].Err)
	assert.Equal(t, identity.UUID, res[1].RemoteID)
	assert.ErrorIs(t, res[2].Err, gateway.ErrAuth)
	assert.ErrorIs(t, res[3].Err, gateway.ErrTransient)

	recs := store.records()
	require.Len(t, recs, 3)
	assert.True(t, recs[1].Synced)
	assert.Empty(t, recs[1].LastError)
	require.NotNil(t, recs[1].ExpiresAt)
	assert.Equal(t, expiry, *recs[1].ExpiresAt)
	assert.False(t, recs[2].Synced)
	assert.Contains(t, recs[2].LastError, "nl-1")
	assert.False(t, recs[3].Synced)
	assert.NotEmpty(t, recs[3].LastError)
	for _, rec := range recs {
		assert.Equal(t, identity.ID, rec.IdentityID)
		assert.False(t, rec.LastAttemptAt.IsZero())
	}
}

func TestReconcile_NodeTimeoutIsolated(t *testing.T) {
	store := new(mockStore)
	var persistErrs []error
	var mu sync.Mutex
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).
		Run(func(args mock.Arguments) {
			mu.Lock()
			persistErrs = append(persistErrs, args.Get(0).(context.Context).Err())
			mu.Unlock()
		}).
		Return(nil)
	store.entitled(time.Now().Add(time.Hour))

	gws := map[int64]*fakeGateway{
		1: {name: "de-1"},
		2: {name: "nl-1", ensure: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		3: {name: "fi-1"},
	}
	r := New(sourceOf(gws), store, nil, Options{NodeTimeout: 50 * time.Millisecond}, newNoopLogger())

	res := r.Reconcile(context.Background(), identity, time.Now().Add(time.Hour), nodes)

	assert.Equal(t, 2, res.Succeeded())
	assert.ErrorIs(t, res[2].Err, context.DeadlineExceeded)
	require.Len(t, persistErrs, 3)
	for _, err := range persistErrs {
		assert.NoError(t, err, "outcome must be recorded with a live context")
	}
}

func TestReconcile_LockHeldByAnotherWorker(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)
	store.entitled(time.Now().Add(time.Hour))

	locker, c := newLocker(t)
	held, err := c.TryLock(context.Background(), LockKey(identity.ID, 2), time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	gws := map[int64]*fakeGateway{1: {name: "de-1"}, 2: {name: "nl-1"}, 3: {name: "fi-1"}}
	r := New(sourceOf(gws), store, locker, Options{NodeTimeout: 200 * time.Millisecond}, newNoopLogger())

	res := r.Reconcile(context.Background(), identity, time.Now().Add(time.Hour), nodes)

	assert.Equal(t, 2, res.Succeeded())
	require.Error(t, res[2].Err)
	assert.Contains(t, res[2].Err.Error(), "lock")
	assert.Equal(t, 0, gws[2].calls)
}

func TestReconcile_ReleasesLocks(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)
	store.entitled(time.Now().Add(time.Hour))

	locker, c := newLocker(t)
	gws := map[int64]*fakeGateway{1: {name: "de-1"}, 2: {name: "nl-1"}, 3: {name: "fi-1"}}
	r := New(sourceOf(gws), store, locker, Options{NodeTimeout: time.Second}, newNoopLogger())

	r.Reconcile(context.Background(), identity, time.Now().Add(time.Hour), nodes)

	for _, n := range nodes {
		l, err := c.TryLock(context.Background(), LockKey(identity.ID, n.ID), time.Second)
		require.NoError(t, err, "lock for node %d must be released", n.ID)
		require.NoError(t, l.Release(context.Background()))
	}
}

func TestRevoke(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)
	store.notEntitled()

	gws := map[int64]*fakeGateway{
		1: {name: "de-1"},
		2: {name: "nl-1", del: func(context.Context) error { return gateway.ErrTransient }},
	}
	r := New(sourceOf(gws), store, nil, Options{}, newNoopLogger())

	res := r.Revoke(context.Background(), identity, nodes)

	assert.Equal(t, 1, res.Succeeded())
	assert.Equal(t, 2, res.Failed())
	assert.EqualError(t, res[3].Err, "no client")

	recs := store.records()
	assert.True(t, recs[1].Synced)
	assert.Nil(t, recs[1].ExpiresAt)
	assert.Equal(t, identity.UUID, recs[1].RemoteID)
	assert.False(t, recs[2].Synced)
}

func TestReconcile_StoreFailureDoesNotChangeOutcome(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).
		Return(errors.New("db down"))
	store.entitled(time.Now().Add(time.Hour))

	gws := map[int64]*fakeGateway{1: {name: "de-1"}}
	r := New(sourceOf(gws), store, nil, Options{}, newNoopLogger())

	res := r.Reconcile(context.Background(), identity, time.Now().Add(time.Hour), nodes[:1])
	assert.Equal(t, 1, res.Succeeded())
	store.AssertNumberOfCalls(t, "UpsertCredential", 1)
}

func TestReconcile_StaleExpiryDoesNotOverwriteRenewal(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)

	oldExp := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	newExp := oldExp.Add(30 * 24 * time.Hour)
	// продление уже записано, срок в базе новый
	store.entitled(newExp)

	locker, _ := newLocker(t)
	gws := map[int64]*fakeGateway{1: {name: "de-1"}}
	r := New(sourceOf(gws), store, locker, Options{NodeTimeout: time.Second}, newNoopLogger())

	// продление после оплаты, затем сверка со снимком, выбранным до оплаты
	res := r.Reconcile(context.Background(), identity, newExp, nodes[:1])
	require.NoError(t, res[1].Err)
	res = r.Reconcile(context.Background(), identity, oldExp, nodes[:1])
	require.NoError(t, res[1].Err)

	assert.Equal(t, newExp, gws[1].expiry)
	rec := store.records()[1]
	assert.True(t, rec.Synced)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, newExp, *rec.ExpiresAt)
}

func TestReconcile_NoActiveSubscription(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)
	store.notEntitled()

	gws := map[int64]*fakeGateway{1: {name: "de-1"}}
	r := New(sourceOf(gws), store, nil, Options{}, newNoopLogger())

	res := r.Reconcile(context.Background(), identity, time.Now().Add(time.Hour), nodes[:1])

	assert.ErrorIs(t, res[1].Err, ErrNotEntitled)
	assert.Equal(t, 0, gws[1].calls)
	assert.False(t, store.records()[1].Synced)
}

func TestReconcile_SubscriptionReadFailure(t *testing.T) {
	store := new(mockStore)
	store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)
	store.On("ActiveSubscription", mock.Anything, identity.ID).
		Return(models.Subscription{}, errors.New("db down"))

	gws := map[int64]*fakeGateway{1: {name: "de-1"}}
	r := New(sourceOf(gws), store, nil, Options{}, newNoopLogger())

	res := r.Reconcile(context.Background(), identity, time.Now().Add(time.Hour), nodes[:1])

	require.Error(t, res[1].Err)
	assert.Contains(t, res[1].Err.Error(), "read subscription")
	assert.Equal(t, 0, gws[1].calls)
}

func TestRevoke_RenewedSubscriptionKeepsCredential(t *testing.T) {
	tests := []struct {
		name       string
		expiresIn  time.Duration
		wantDelete bool
	}{
		{name: "renewed before revoke", expiresIn: 30 * 24 * time.Hour},
		{name: "active row already expired", expiresIn: -time.Minute, wantDelete: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			store.On("UpsertCredential", mock.Anything, mock.AnythingOfType("models.Credential")).Return(nil)
			exp := time.Now().Add(tt.expiresIn).Truncate(time.Second)
			store.entitled(exp)

			locker, _ := newLocker(t)
			gws := map[int64]*fakeGateway{1: {name: "de-1"}}
			r := New(sourceOf(gws), store, locker, Options{NodeTimeout: time.Second}, newNoopLogger())

			res := r.Revoke(context.Background(), identity, nodes[:1])
			require.NoError(t, res[1].Err)

			rec := store.records()[1]
			assert.True(t, rec.Synced)
			if tt.wantDelete {
				assert.Equal(t, 1, gws[1].deletes)
				assert.Nil(t, rec.ExpiresAt)
				return
			}
			assert.Equal(t, 0, gws[1].deletes)
			assert.Equal(t, exp, gws[1].expiry)
			require.NotNil(t, rec.ExpiresAt)
			assert.Equal(t, exp, *rec.ExpiresAt)
		})
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 600)
	assert.Len(t, truncate(long, maxErrorLen), maxErrorLen)
	assert.Equal(t, "short", truncate("short", maxErrorLen))
}
