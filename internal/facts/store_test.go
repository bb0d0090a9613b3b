package facts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtt87/math-facts/internal/model"
	"github.com/mtt87/math-facts/internal/storage"
)

type fakePusher struct {
	mu     sync.Mutex
	pushes []model.Snapshot
}

func (f *fakePusher) Push(_ context.Context, _ string, _ int, snap model.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, snap)
	return nil
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakePusher) last() model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

// blockingPusher holds every push until release is closed.
type blockingPusher struct {
	fakePusher
	release chan struct{}
}

func (b *blockingPusher) Push(ctx context.Context, id string, user int, snap model.Snapshot) error {
	<-b.release
	return b.fakePusher.Push(ctx, id, user, snap)
}

// failingBackend wraps Memory and fails every write.
type failingBackend struct {
	*storage.Memory
}

func (f failingBackend) Set(context.Context, string, string) error {
	return errors.New("disk full")
}

// readFailingBackend wraps Memory and fails every read.
type readFailingBackend struct {
	*storage.Memory
}

func (readFailingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("io error")
}

// flakyBackend wraps Memory and fails writes once fail is set.
type flakyBackend struct {
	*storage.Memory
	fail bool
}

func (f *flakyBackend) Set(ctx context.Context, key, value string) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func attempt(answer int, correct bool) model.Attempt {
	return model.Attempt{
		Answer:    answer,
		Correct:   correct,
		ElapsedMs: 1200,
		At:        time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func loadedStore(t *testing.T, backend storage.Backend, opts ...Option) *Store {
	t.Helper()
	st := New(backend, opts...)
	require.NoError(t, st.Load(context.Background()))
	return st
}

func TestLoadDefaults(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())

	require.True(t, st.IsLoaded())
	require.NotEmpty(t, st.InstallationID())
	require.Equal(t, []model.User{{ID: 0, Name: "Player"}}, st.Users())
	require.Equal(t, 0, st.Points())
	require.Empty(t, st.Scores())
	fd := st.FactData()
	for _, op := range model.DefaultOperations {
		require.NotNil(t, fd[op], op)
	}
}

func TestAddPointsAccumulates(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	ctx := context.Background()

	amounts := []int{7, 3, 12, 5}
	sum := 0
	for _, a := range amounts {
		require.NoError(t, st.AddPoints(ctx, a))
		sum += a
	}

	require.Equal(t, sum, st.Points())
	require.Equal(t, amounts, st.Scores())
}

func TestRecordAttemptsRoundTrip(t *testing.T) {
	backend := storage.NewMemory()
	st := loadedStore(t, backend)
	ctx := context.Background()

	data := attempt(6, true)
	err := st.RecordAttempts(ctx, model.OpMultiplication, []model.AttemptInput{
		{Inputs: []int{2, 3}, Data: data},
	})
	require.NoError(t, err)

	// A second store over the same backend must see exactly the payload at
	// the [2][3] cell.
	reloaded := loadedStore(t, backend)
	facts := reloaded.FactData()[model.OpMultiplication]
	require.NotNil(t, facts)
	require.Equal(t, []model.Attempt{data}, facts.Pairs[2][3])
}

func TestRecordAttemptsOneInputKeepsWholeObject(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	ctx := context.Background()

	input := model.AttemptInput{Inputs: []int{5}, Data: attempt(5, true)}
	require.NoError(t, st.RecordAttempts(ctx, model.OpTyping, []model.AttemptInput{input}))

	facts := st.FactData()[model.OpTyping]
	require.Equal(t, []model.AttemptInput{input}, facts.Singles[5])
	require.Empty(t, facts.Pairs)
}

func TestRecordAttemptsLazilyCreatesRows(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	ctx := context.Background()

	require.NoError(t, st.RecordAttempts(ctx, model.OpAddition, []model.AttemptInput{
		{Inputs: []int{4, 9}, Data: attempt(13, true)},
	}))

	facts := st.FactData()[model.OpAddition]
	require.Len(t, facts.Pairs, 1)
	require.Len(t, facts.Pairs[4], 1)
	_, ok := facts.Pairs[5]
	require.False(t, ok, "untouched rows must stay absent")
}

func TestRecordAttemptsEmptyIsNoOp(t *testing.T) {
	backend := storage.NewMemory()
	st := loadedStore(t, backend)
	ctx := context.Background()

	require.NoError(t, st.RecordAttempts(ctx, model.OpMultiplication, nil))

	_, ok, err := backend.Get(ctx, "0-factData")
	require.NoError(t, err)
	require.False(t, ok, "empty attempts must not persist")
}

func TestRecordAttemptsRejectsBadShape(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	err := st.RecordAttempts(context.Background(), model.OpMultiplication, []model.AttemptInput{
		{Inputs: []int{1, 2, 3}, Data: attempt(6, true)},
	})
	require.ErrorIs(t, err, ErrBadAttemptShape)
}

func TestSwitchUserRestoresPersistedState(t *testing.T) {
	backend := storage.NewMemory()
	st := loadedStore(t, backend)
	ctx := context.Background()

	require.NoError(t, st.AddPoints(ctx, 5))
	require.NoError(t, st.RecordAttempts(ctx, model.OpMultiplication, []model.AttemptInput{
		{Inputs: []int{7, 8}, Data: attempt(56, true)},
	}))

	_, err := st.AddUser(ctx, "Bob")
	require.NoError(t, err)
	require.Equal(t, 0, st.Points(), "new user starts empty")
	require.NoError(t, st.AddPoints(ctx, 3))

	require.NoError(t, st.SwitchActiveUser(ctx, 0))
	require.True(t, st.IsLoaded())
	require.Equal(t, 5, st.Points())
	require.Equal(t, []int{5}, st.Scores())
	facts := st.FactData()[model.OpMultiplication]
	require.Len(t, facts.Pairs[7][8], 1)

	require.NoError(t, st.SwitchActiveUser(ctx, 1))
	require.Equal(t, 3, st.Points())
	require.Empty(t, st.FactData()[model.OpMultiplication].Pairs)
}

func TestAddUserAssignsNextID(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())

	user, err := st.AddUser(context.Background(), "Bob")
	require.NoError(t, err)
	require.Equal(t, 1, user.ID)
	require.Len(t, st.Users(), 2)
	require.Equal(t, user, st.ActiveUser())
}

func TestRenameActiveUserPersists(t *testing.T) {
	backend := storage.NewMemory()
	st := loadedStore(t, backend)
	ctx := context.Background()

	require.NoError(t, st.RenameActiveUser(ctx, "Ana"))
	require.Equal(t, "Ana", st.ActiveUser().Name)

	reloaded := loadedStore(t, backend)
	require.Equal(t, "Ana", reloaded.ActiveUser().Name)
	require.Equal(t, 0, reloaded.ActiveUser().ID)
}

func TestSwitchActiveUserRejectsUnknownID(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	require.ErrorIs(t, st.SwitchActiveUser(context.Background(), 5), ErrNoSuchUser)
	require.ErrorIs(t, st.SwitchActiveUser(context.Background(), -1), ErrNoSuchUser)
}

func TestClearDataRemovesStoredKeys(t *testing.T) {
	backend := storage.NewMemory()
	st := loadedStore(t, backend)
	ctx := context.Background()

	require.NoError(t, st.AddPoints(ctx, 9))
	require.NoError(t, st.RecordAttempts(ctx, model.OpTyping, []model.AttemptInput{
		{Inputs: []int{4}, Data: attempt(4, true)},
	}))

	require.NoError(t, st.ClearData(ctx))
	require.Equal(t, 0, st.Points())
	require.Empty(t, st.Scores())
	require.Empty(t, st.FactData()[model.OpTyping].Singles)

	// The keys must actually be gone, not just the cache reset.
	for _, key := range []string{"0-points", "0-scores", "0-factData"} {
		_, ok, err := backend.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, ok, key)
	}
	reloaded := loadedStore(t, backend)
	require.Equal(t, 0, reloaded.Points())
	require.Empty(t, reloaded.Scores())
}

func TestClearDataKeepsIdentityAndUsers(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	ctx := context.Background()
	id := st.InstallationID()
	_, err := st.AddUser(ctx, "Bob")
	require.NoError(t, err)

	require.NoError(t, st.ClearData(ctx))
	require.Equal(t, id, st.InstallationID())
	require.Len(t, st.Users(), 2)
}

func TestEnsureInstallationIDIsIdempotent(t *testing.T) {
	backend := storage.NewMemory()
	calls := 0
	st := New(backend, WithIDSource(func() string {
		calls++
		return "gen-1"
	}))
	ctx := context.Background()

	first, err := st.EnsureInstallationID(ctx)
	require.NoError(t, err)
	second, err := st.EnsureInstallationID(ctx)
	require.NoError(t, err)
	require.Equal(t, "gen-1", first)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls, "generator must run exactly once")

	// A full reload must keep the persisted id too.
	require.NoError(t, st.Load(ctx))
	require.Equal(t, first, st.InstallationID())
	require.Equal(t, 1, calls)
}

func TestEnsureInstallationIDPrefersStoredValue(t *testing.T) {
	backend := storage.NewMemory()
	require.NoError(t, backend.Set(context.Background(), "uuid", "stored-id"))
	calls := 0
	st := New(backend, WithIDSource(func() string {
		calls++
		return "gen-1"
	}))

	require.NoError(t, st.Load(context.Background()))
	require.Equal(t, "stored-id", st.InstallationID())
	require.Equal(t, 0, calls)
}

func TestCorruptStoredDataFallsBackToDefaults(t *testing.T) {
	backend := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "0-factData", "{not json"))
	require.NoError(t, backend.Set(ctx, "0-scores", "broken"))
	require.NoError(t, backend.Set(ctx, "0-points", "NaN"))

	st := New(backend)
	require.NoError(t, st.Load(ctx), "corrupt per-user data must not fail the load")
	require.True(t, st.IsLoaded())
	require.Equal(t, 0, st.Points())
	require.Empty(t, st.Scores())
	require.NotNil(t, st.FactData()[model.OpMultiplication])
}

func TestObserverNotifications(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	unsubscribe := st.Subscribe(func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	notified := func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}

	require.NoError(t, st.AddPoints(ctx, 1))
	require.Equal(t, 1, notified())

	// Attempt ingestion intentionally stays silent.
	require.NoError(t, st.RecordAttempts(ctx, model.OpTyping, []model.AttemptInput{
		{Inputs: []int{1}, Data: attempt(1, true)},
	}))
	require.Equal(t, 1, notified())

	require.NoError(t, st.ClearData(ctx))
	require.Equal(t, 2, notified())

	unsubscribe()
	require.NoError(t, st.AddPoints(ctx, 1))
	require.Equal(t, 2, notified())
}

func TestObserverCanReadDuringNotification(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())

	seen := -1
	st.Subscribe(func() {
		seen = st.Points()
	})
	require.NoError(t, st.AddPoints(context.Background(), 4))
	require.Equal(t, 4, seen, "observers re-read through accessors")
}

func TestMirrorPushAfterPersistence(t *testing.T) {
	pusher := &fakePusher{}
	st := loadedStore(t, storage.NewMemory(), WithPusher(pusher))
	ctx := context.Background()

	require.NoError(t, st.AddPoints(ctx, 6))
	st.Drain()
	require.Equal(t, 1, pusher.count())
	snap := pusher.last()
	require.Equal(t, 6, snap.Points)
	require.Equal(t, []int{6}, snap.Scores)

	require.NoError(t, st.RecordAttempts(ctx, model.OpAddition, []model.AttemptInput{
		{Inputs: []int{1, 2}, Data: attempt(3, true)},
	}))
	st.Drain()
	require.Equal(t, 2, pusher.count())
	require.NotEmpty(t, pusher.last().FactData[model.OpAddition].Pairs)
}

func TestDrainWaitsForMirrorPushes(t *testing.T) {
	pusher := &blockingPusher{release: make(chan struct{})}
	st := loadedStore(t, storage.NewMemory(), WithPusher(pusher))

	require.NoError(t, st.AddPoints(context.Background(), 2))
	require.Equal(t, 0, pusher.count(), "push is still in flight")

	close(pusher.release)
	st.Drain()
	require.Equal(t, 1, pusher.count(), "drain returns only after the push lands")
}

func TestDrainWithNoPushesReturnsImmediately(t *testing.T) {
	st := loadedStore(t, storage.NewMemory())
	st.Drain()
}

func TestFailedLoadDoesNotNotify(t *testing.T) {
	st := New(readFailingBackend{storage.NewMemory()})
	notified := 0
	st.Subscribe(func() { notified++ })

	require.Error(t, st.Load(context.Background()))
	require.Equal(t, 0, notified, "a failed load must stay silent")
	require.False(t, st.IsLoaded())
}

func TestFailedSwitchDoesNotNotify(t *testing.T) {
	backend := &flakyBackend{Memory: storage.NewMemory()}
	st := New(backend)
	ctx := context.Background()
	require.NoError(t, st.Load(ctx))
	_, err := st.AddUser(ctx, "Bob")
	require.NoError(t, err)

	notified := 0
	st.Subscribe(func() { notified++ })
	backend.fail = true
	require.Error(t, st.SwitchActiveUser(ctx, 0))
	require.Equal(t, 0, notified, "a failed switch must stay silent")

	_, err = st.AddUser(ctx, "Cleo")
	require.Error(t, err)
	require.Equal(t, 0, notified, "a failed user add must stay silent")
}

func TestWriteFailureIsSurfacedButOptimistic(t *testing.T) {
	backend := failingBackend{storage.NewMemory()}
	st := New(backend)

	err := st.AddPoints(context.Background(), 10)
	require.Error(t, err)
	require.Equal(t, 10, st.Points(), "memory stays ahead of a failed write")
}

func TestUnknownOperationSurvivesReload(t *testing.T) {
	backend := storage.NewMemory()
	st := loadedStore(t, backend)
	ctx := context.Background()

	require.NoError(t, st.RecordAttempts(ctx, "division", []model.AttemptInput{
		{Inputs: []int{8, 2}, Data: attempt(4, true)},
	}))

	reloaded := loadedStore(t, backend)
	facts := reloaded.FactData()["division"]
	require.NotNil(t, facts)
	require.Len(t, facts.Pairs[8][2], 1)
}
