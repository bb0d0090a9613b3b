// Package facts implements the local-first store for practice attempts,
// points, and user profiles. All per-user state is persisted under keys
// namespaced by the active user's id, written through to a durable backend,
// and opportunistically mirrored to a remote document store.
package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mtt87/math-facts/internal/model"
	"github.com/mtt87/math-facts/internal/storage"
)

// Installation-wide keys.
const (
	keyInstallationID = "uuid"
	keyActiveUser     = "activeUser"
	keyUserList       = "userList"
)

// Per-user logical key names, namespaced through key().
const (
	namePoints   = "points"
	nameScores   = "scores"
	nameFactData = "factData"
)

const defaultUserName = "Player"

// ErrNoSuchUser is returned when a switch targets an id outside the user list.
var ErrNoSuchUser = errors.New("no such user")

// ErrBadAttemptShape is returned when an attempt carries an unsupported
// number of inputs.
var ErrBadAttemptShape = errors.New("attempt must have 1 or 2 inputs")

// Pusher mirrors a per-user snapshot to a remote store. Implementations are
// best-effort; the store never waits on or retries a push.
type Pusher interface {
	Push(ctx context.Context, installationID string, userID int, snap model.Snapshot) error
}

// Option configures a Store.
type Option func(*Store)

// WithPusher sets the remote mirror pusher. Without one, mirroring is off.
func WithPusher(p Pusher) Option {
	return func(s *Store) { s.pusher = p }
}

// WithLogger sets the logger for recoverable errors.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithIDSource sets the installation id generator.
func WithIDSource(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store owns the single in-memory state record. Every exported operation
// holds the mutex for its full duration, reload included, so a mutation can
// never interleave with an in-flight user switch.
type Store struct {
	backend storage.Backend
	pusher  Pusher
	newID   func() string
	log     *zap.Logger

	mu             sync.Mutex
	loaded         bool
	installationID string
	activeUser     int
	userList       []model.User
	points         int
	scores         []int
	factData       model.FactData

	observers      map[int]func()
	nextObserverID int

	pushes sync.WaitGroup
}

// New constructs a store over the given backend. The state starts with a
// default user and empty fact data; call Load before reading.
func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		newID:     uuid.NewString,
		log:       zap.NewNop(),
		userList:  []model.User{{ID: 0, Name: defaultUserName}},
		scores:    []int{},
		factData:  model.NewFactData(),
		observers: map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a change callback and returns its unsubscribe func.
// Callbacks carry no payload; observers re-read through accessors.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObserverID
	s.nextObserverID++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Load fetches installation identity, the user list, and the active user's
// points, scores, and fact data from the backend. Observers are notified
// only after a successful fetch.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	err := s.loadLocked(ctx)
	var obs []func()
	if err == nil {
		obs = s.observerList()
	}
	s.mu.Unlock()
	notify(obs)
	return err
}

// EnsureInstallationID returns the installation id, generating and
// persisting one on first call. Idempotent: an id already held in memory or
// in storage is never regenerated or overwritten.
func (s *Store) EnsureInstallationID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureInstallationIDLocked(ctx); err != nil {
		return "", err
	}
	return s.installationID, nil
}

// AddUser appends a new user with id equal to the current list length,
// makes it active (reloading per-user state), and persists the list.
func (s *Store) AddUser(ctx context.Context, name string) (model.User, error) {
	s.mu.Lock()
	user := model.User{ID: len(s.userList), Name: name}
	s.userList = append(s.userList, user)
	err := s.switchLocked(ctx, user.ID)
	var obs []func()
	if err == nil {
		obs = s.observerList()
	}
	s.mu.Unlock()
	notify(obs)
	return user, err
}

// RenameActiveUser changes the active user's name in place and persists the
// user list.
func (s *Store) RenameActiveUser(ctx context.Context, name string) error {
	s.mu.Lock()
	s.userList[s.activeUser].Name = name
	err := s.persistUserData(ctx)
	obs := s.observerList()
	s.mu.Unlock()
	notify(obs)
	return err
}

// SwitchActiveUser selects a different profile. In-memory per-user state is
// marked stale before any I/O and only becomes loaded again after the new
// namespace has been fetched in full.
func (s *Store) SwitchActiveUser(ctx context.Context, id int) error {
	s.mu.Lock()
	if id < 0 || id >= len(s.userList) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoSuchUser, id)
	}
	err := s.switchLocked(ctx, id)
	var obs []func()
	if err == nil {
		obs = s.observerList()
	}
	s.mu.Unlock()
	notify(obs)
	return err
}

// AddPoints increments points by amount and appends amount to the scores
// log in the same operation. Observers see the new value even if the
// durable write fails; the failure is still returned.
func (s *Store) AddPoints(ctx context.Context, amount int) error {
	s.mu.Lock()
	s.points += amount
	s.scores = append(s.scores, amount)
	err := s.persistPoints(ctx)
	obs := s.observerList()
	s.mu.Unlock()
	notify(obs)
	return err
}

// RecordAttempts appends practice attempts to the active user's fact data.
// Rows and cells are created lazily. One-input attempts append the whole
// input, operands included; two-input attempts append only the payload.
// An empty attempts slice is a no-op and persists nothing. This path does
// not notify observers.
func (s *Store) RecordAttempts(ctx context.Context, operation string, attempts []model.AttemptInput) error {
	if len(attempts) == 0 {
		return nil
	}
	for _, a := range attempts {
		if n := len(a.Inputs); n != 1 && n != 2 {
			return fmt.Errorf("%w: got %d", ErrBadAttemptShape, len(a.Inputs))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	facts := s.factData[operation]
	if facts == nil {
		facts = &model.OperationFacts{}
		s.factData[operation] = facts
	}
	for _, a := range attempts {
		first := a.Inputs[0]
		if len(a.Inputs) == 1 {
			if facts.Singles == nil {
				facts.Singles = map[int][]model.AttemptInput{}
			}
			facts.Singles[first] = append(facts.Singles[first], a)
			continue
		}
		if facts.Pairs == nil {
			facts.Pairs = map[int]map[int][]model.Attempt{}
		}
		if facts.Pairs[first] == nil {
			facts.Pairs[first] = map[int][]model.Attempt{}
		}
		second := a.Inputs[1]
		facts.Pairs[first][second] = append(facts.Pairs[first][second], a.Data)
	}
	return s.persistFactData(ctx)
}

// ClearData removes the active user's persisted fact data, points, and
// scores, refetches the now-empty defaults, and notifies observers.
// Identity and the user list are untouched.
func (s *Store) ClearData(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = false
	var errs []error
	for _, name := range []string{nameFactData, namePoints, nameScores} {
		if err := s.backend.Remove(ctx, s.key(name)); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", name, err))
		}
	}
	fetchErr := errors.Join(s.fetchPoints(ctx), s.fetchFactData(ctx))
	if fetchErr == nil {
		s.loaded = true
	}
	errs = append(errs, fetchErr)
	obs := s.observerList()
	s.mu.Unlock()
	notify(obs)
	return errors.Join(errs...)
}

// IsLoaded reports whether per-user state reflects the active namespace.
// Reads made while unloaded may return the previous user's data.
func (s *Store) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// InstallationID returns the installation id, or "" before Load/Ensure.
func (s *Store) InstallationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installationID
}

// Points returns the active user's points total.
func (s *Store) Points() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points
}

// Scores returns a copy of the active user's append-only score log.
func (s *Store) Scores() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.scores...)
}

// FactData returns a deep copy of the active user's fact data.
func (s *Store) FactData() model.FactData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factData.Clone()
}

// ActiveUser returns the currently selected profile.
func (s *Store) ActiveUser() model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userList[s.activeUser]
}

// Users returns a copy of the user list.
func (s *Store) Users() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.User(nil), s.userList...)
}

func (s *Store) switchLocked(ctx context.Context, id int) error {
	s.activeUser = id
	s.loaded = false
	if err := s.persistUserData(ctx); err != nil {
		return err
	}
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	s.loaded = false
	if err := s.fetchUserData(ctx); err != nil {
		return err
	}
	if err := errors.Join(s.fetchPoints(ctx), s.fetchFactData(ctx)); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// fetchUserData resolves identity and the user list. Stored values replace
// in-memory defaults; absence keeps whatever is already in memory.
func (s *Store) fetchUserData(ctx context.Context) error {
	if err := s.ensureInstallationIDLocked(ctx); err != nil {
		return err
	}

	raw, ok, err := s.backend.Get(ctx, keyActiveUser)
	if err != nil {
		return fmt.Errorf("failed to read active user: %w", err)
	}
	if ok {
		id, convErr := strconv.Atoi(raw)
		if convErr != nil {
			s.log.Warn("discarding corrupt active user", zap.String("value", raw), zap.Error(convErr))
		} else {
			s.activeUser = id
		}
	}

	raw, ok, err = s.backend.Get(ctx, keyUserList)
	if err != nil {
		return fmt.Errorf("failed to read user list: %w", err)
	}
	if ok {
		var users []model.User
		if jsonErr := json.Unmarshal([]byte(raw), &users); jsonErr != nil {
			s.log.Warn("discarding corrupt user list", zap.Error(jsonErr))
		} else if len(users) > 0 {
			s.userList = users
		}
	}

	if s.activeUser < 0 || s.activeUser >= len(s.userList) {
		s.log.Warn("stored active user out of range, falling back to first user",
			zap.Int("id", s.activeUser), zap.Int("users", len(s.userList)))
		s.activeUser = 0
	}
	return nil
}

func (s *Store) ensureInstallationIDLocked(ctx context.Context) error {
	if s.installationID != "" {
		return nil
	}
	stored, ok, err := s.backend.Get(ctx, keyInstallationID)
	if err != nil {
		return fmt.Errorf("failed to read installation id: %w", err)
	}
	if ok && stored != "" {
		s.installationID = stored
		return nil
	}
	s.installationID = s.newID()
	if err := s.backend.Set(ctx, keyInstallationID, s.installationID); err != nil {
		s.log.Warn("failed to persist installation id", zap.Error(err))
		return fmt.Errorf("failed to persist installation id: %w", err)
	}
	return nil
}

// fetchPoints resolves points and scores. Unlike identity and the user
// list, absence here is a genuine reset to 0 / empty.
func (s *Store) fetchPoints(ctx context.Context) error {
	raw, ok, err := s.backend.Get(ctx, s.key(namePoints))
	if err != nil {
		return fmt.Errorf("failed to read points: %w", err)
	}
	points := 0
	if ok {
		v, convErr := strconv.Atoi(raw)
		if convErr != nil {
			s.log.Warn("discarding corrupt points", zap.Int("user", s.activeUser), zap.Error(convErr))
		} else {
			points = v
		}
	}
	s.points = points

	raw, ok, err = s.backend.Get(ctx, s.key(nameScores))
	if err != nil {
		return fmt.Errorf("failed to read scores: %w", err)
	}
	scores := []int{}
	if ok {
		var v []int
		if jsonErr := json.Unmarshal([]byte(raw), &v); jsonErr != nil {
			s.log.Warn("discarding corrupt scores", zap.Int("user", s.activeUser), zap.Error(jsonErr))
		} else {
			scores = v
		}
	}
	s.scores = scores
	return nil
}

// fetchFactData resolves fact data. Absence or a failed parse resolves to
// an empty structure per operation kind, never nil.
func (s *Store) fetchFactData(ctx context.Context) error {
	fd := model.NewFactData()
	raw, ok, err := s.backend.Get(ctx, s.key(nameFactData))
	if err != nil {
		return fmt.Errorf("failed to read fact data: %w", err)
	}
	if ok {
		var stored model.FactData
		if jsonErr := json.Unmarshal([]byte(raw), &stored); jsonErr != nil {
			s.log.Warn("discarding corrupt fact data", zap.Int("user", s.activeUser), zap.Error(jsonErr))
		} else {
			for op, facts := range stored {
				if facts != nil {
					fd[op] = facts
				}
			}
		}
	}
	s.factData = fd
	return nil
}

func (s *Store) persistUserData(ctx context.Context) error {
	var errs []error
	if err := s.backend.Set(ctx, keyActiveUser, strconv.Itoa(s.activeUser)); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist active user: %w", err))
	}
	raw, err := json.Marshal(s.userList)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to encode user list: %w", err))
	} else if err := s.backend.Set(ctx, keyUserList, string(raw)); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist user list: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("user data write failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) persistPoints(ctx context.Context) error {
	var errs []error
	if err := s.backend.Set(ctx, s.key(namePoints), strconv.Itoa(s.points)); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist points: %w", err))
	}
	raw, err := json.Marshal(s.scores)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to encode scores: %w", err))
	} else if err := s.backend.Set(ctx, s.key(nameScores), string(raw)); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist scores: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("points write failed", zap.Int("user", s.activeUser), zap.Error(err))
		return err
	}
	s.pushMirrorLocked()
	return nil
}

func (s *Store) persistFactData(ctx context.Context) error {
	raw, err := json.Marshal(s.factData)
	if err != nil {
		return fmt.Errorf("failed to encode fact data: %w", err)
	}
	if err := s.backend.Set(ctx, s.key(nameFactData), string(raw)); err != nil {
		s.log.Warn("fact data write failed", zap.Int("user", s.activeUser), zap.Error(err))
		return fmt.Errorf("failed to persist fact data: %w", err)
	}
	s.pushMirrorLocked()
	return nil
}

// pushMirrorLocked snapshots the per-user state and hands it to the pusher
// on a separate goroutine. Push failures are logged and forgotten.
func (s *Store) pushMirrorLocked() {
	if s.pusher == nil || s.installationID == "" {
		return
	}
	snap := model.Snapshot{
		Points:   s.points,
		Scores:   append([]int(nil), s.scores...),
		FactData: s.factData.Clone(),
	}
	installationID := s.installationID
	userID := s.activeUser
	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()
		if err := s.pusher.Push(context.Background(), installationID, userID, snap); err != nil {
			s.log.Debug("mirror push failed", zap.Error(err))
		}
	}()
}

// Drain blocks until every in-flight mirror push has finished. Short-lived
// hosts call this before exit so a pending push is not killed mid-request;
// the pusher's own timeout bounds the wait.
func (s *Store) Drain() {
	s.pushes.Wait()
}

// key derives the namespaced storage key for a per-user logical name,
// e.g. "0-points".
func (s *Store) key(name string) string {
	return strconv.Itoa(s.activeUser) + "-" + name
}

func (s *Store) observerList() []func() {
	obs := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	return obs
}

// notify runs callbacks outside the store mutex so observers can re-read
// through accessors. Ordering across observers is unspecified.
func notify(obs []func()) {
	for _, fn := range obs {
		fn()
	}
}
