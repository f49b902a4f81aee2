package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/identity"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/resilience"
)

// fakeStore is an in-memory ProfileStore with hooks for failure injection.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]domain.ProfileRow
	selects int
	inserts int

	onSelect func(call int, id string) (*domain.ProfileRow, error, bool)
	onInsert func(row *domain.ProfileRow) (*domain.ProfileRow, error, bool)
}

func newFakeStore(rows ...domain.ProfileRow) *fakeStore {
	s := &fakeStore{rows: make(map[string]domain.ProfileRow)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *fakeStore) SelectProfileByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	s.mu.Lock()
	s.selects++
	call := s.selects
	hook := s.onSelect
	s.mu.Unlock()

	if hook != nil {
		if row, err, handled := hook(call, id); handled {
			return row, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	return &row, nil
}

func (s *fakeStore) InsertProfile(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	s.mu.Lock()
	s.inserts++
	hook := s.onInsert
	s.mu.Unlock()

	if hook != nil {
		if out, err, handled := hook(row); handled {
			return out, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.ID]; ok {
		return nil, &domain.ErrUniqueViolation{Resource: "profile", ID: row.ID}
	}
	s.rows[row.ID] = *row
	out := *row
	return &out, nil
}

func (s *fakeStore) UpdateProfile(ctx context.Context, id string, u domain.ProfileUpdate) (*domain.ProfileRow, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selects, s.inserts
}

func strp(s string) *string { return &s }

func principal() domain.Principal {
	return domain.Principal{
		ID:    "u-1",
		Email: "ada@example.com",
		Metadata: domain.UserMetadata{
			FirstName: strp("Ada"),
			LastName:  strp("Lovelace"),
			Company:   strp("Acme"),
		},
	}
}

func newReconciler(store *fakeStore, opts identity.Options) *identity.Reconciler {
	return identity.NewReconciler(store, opts, observability.NewMetrics(), zap.NewNop())
}

func requireFailure(t *testing.T, err error, reason domain.LoginReason) {
	t.Helper()
	var f *identity.Failure
	require.True(t, errors.As(err, &f), "expected *identity.Failure, got %v", err)
	assert.Equal(t, reason, f.Reason)
	assert.Equal(t, reason, identity.ReasonOf(err))
}

func TestResolve_ExistingProfile(t *testing.T) {
	store := newFakeStore(domain.ProfileRow{ID: "u-1", Email: "ada@example.com", Role: strp("Admin"), FirstName: strp("Ada")})
	r := newReconciler(store, identity.Options{})

	p, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, p.Role)
	assert.Equal(t, "Ada", p.FirstName)
	assert.True(t, p.IsActive)

	_, inserts := store.counts()
	assert.Equal(t, 0, inserts, "existing profile must not be re-created")
}

func TestResolve_CreatesMissingProfile(t *testing.T) {
	store := newFakeStore()
	r := newReconciler(store, identity.Options{})

	p, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, "Lovelace", p.LastName)
	assert.Equal(t, "Acme", p.Company)
	assert.Equal(t, domain.RoleUser, p.Role)
	assert.True(t, p.IsActive)
}

func TestResolve_UniqueViolationRequeries(t *testing.T) {
	trigger := domain.ProfileRow{ID: "u-1", Email: "ada@example.com", FirstName: strp("Trigger"), Role: strp("Manager")}
	store := newFakeStore()
	store.onInsert = func(row *domain.ProfileRow) (*domain.ProfileRow, error, bool) {
		// The provisioning trigger commits between our select and insert.
		store.mu.Lock()
		store.rows[trigger.ID] = trigger
		store.mu.Unlock()
		return nil, &domain.ErrUniqueViolation{Resource: "profile", ID: row.ID}, true
	}
	r := newReconciler(store, identity.Options{})

	p, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)
	assert.Equal(t, "Trigger", p.FirstName, "the concurrently created row wins")
	assert.Equal(t, domain.RoleManager, p.Role)

	selects, inserts := store.counts()
	assert.Equal(t, 2, selects)
	assert.Equal(t, 1, inserts)
}

func TestResolve_UniqueViolationThenStillMissing(t *testing.T) {
	store := newFakeStore()
	store.onInsert = func(row *domain.ProfileRow) (*domain.ProfileRow, error, bool) {
		return nil, &domain.ErrUniqueViolation{Resource: "profile", ID: row.ID}, true
	}
	r := newReconciler(store, identity.Options{})

	_, err := r.Resolve(context.Background(), principal())
	requireFailure(t, err, domain.ReasonProfileMissing)
}

func TestResolve_LookupError(t *testing.T) {
	store := newFakeStore()
	store.onSelect = func(int, string) (*domain.ProfileRow, error, bool) {
		return nil, &domain.ErrExternalService{Service: "supabase/rest", Err: errors.New("boom")}, true
	}
	r := newReconciler(store, identity.Options{})

	_, err := r.Resolve(context.Background(), principal())
	requireFailure(t, err, domain.ReasonProfileError)

	_, inserts := store.counts()
	assert.Equal(t, 0, inserts, "a failed lookup is not a missing profile")
}

func TestResolve_CreateError(t *testing.T) {
	store := newFakeStore()
	store.onInsert = func(*domain.ProfileRow) (*domain.ProfileRow, error, bool) {
		return nil, errors.New("permission denied for table profiles"), true
	}
	r := newReconciler(store, identity.Options{})

	_, err := r.Resolve(context.Background(), principal())
	requireFailure(t, err, domain.ReasonProfileError)
}

func TestResolve_TimesOutOnHungStore(t *testing.T) {
	store := newFakeStore()
	hang := make(chan struct{})
	defer close(hang)
	store.onSelect = func(int, string) (*domain.ProfileRow, error, bool) {
		<-hang // ignores ctx on purpose
		return nil, nil, false
	}
	r := newReconciler(store, identity.Options{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := r.Resolve(context.Background(), principal())
	requireFailure(t, err, domain.ReasonTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolve_HungLookupDoesNotBlockNextCall(t *testing.T) {
	store := newFakeStore(domain.ProfileRow{ID: "u-1", Email: "ada@example.com"})
	hang := make(chan struct{})
	defer close(hang)
	store.onSelect = func(call int, _ string) (*domain.ProfileRow, error, bool) {
		if call == 1 {
			<-hang
		}
		return nil, nil, false
	}
	r := newReconciler(store, identity.Options{Timeout: 50 * time.Millisecond})

	_, err := r.Resolve(context.Background(), principal())
	requireFailure(t, err, domain.ReasonTimeout)

	p, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)
}

func TestNewReconciler_DefaultTimeout(t *testing.T) {
	r := newReconciler(newFakeStore(), identity.Options{})
	assert.Equal(t, 5*time.Second, r.Timeout())
	assert.Equal(t, identity.DefaultTimeout, r.Timeout())
}

func TestResolve_Idempotent(t *testing.T) {
	store := newFakeStore()
	r := newReconciler(store, identity.Options{})

	first, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
	_, inserts := store.counts()
	assert.Equal(t, 1, inserts)
}

func TestResolve_ConcurrentCallsShareLookup(t *testing.T) {
	store := newFakeStore(domain.ProfileRow{ID: "u-1", Email: "ada@example.com"})
	release := make(chan struct{})
	store.onSelect = func(int, string) (*domain.ProfileRow, error, bool) {
		<-release
		return nil, nil, false
	}
	r := newReconciler(store, identity.Options{})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), principal())
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	selects, _ := store.counts()
	assert.Equal(t, 1, selects)
}

func TestResolve_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	store := newFakeStore(domain.ProfileRow{ID: "u-1", Email: "ada@example.com"})
	entered := make(chan struct{})
	release := make(chan struct{})
	store.onSelect = func(call int, _ string) (*domain.ProfileRow, error, bool) {
		if call == 1 {
			close(entered)
		}
		<-release
		return nil, nil, false
	}
	r := newReconciler(store, identity.Options{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, principal())
		errA <- err
	}()
	<-entered

	type result struct {
		p   *domain.Profile
		err error
	}
	resB := make(chan result, 1)
	go func() {
		p, err := r.Resolve(context.Background(), principal())
		resB <- result{p, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	requireFailure(t, <-errA, domain.ReasonProfileError)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "u-1", b.p.ID)

	selects, _ := store.counts()
	assert.Equal(t, 1, selects, "the second caller joined the first lookup")
}

func TestResolve_RetriesTransientLookup(t *testing.T) {
	store := newFakeStore(domain.ProfileRow{ID: "u-1", Email: "ada@example.com"})
	store.onSelect = func(call int, _ string) (*domain.ProfileRow, error, bool) {
		if call == 1 {
			return nil, &domain.ErrExternalService{Service: "supabase/rest", Err: errors.New("reset by peer")}, true
		}
		return nil, nil, false
	}
	r := newReconciler(store, identity.Options{Retry: resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}})

	p, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)
}

func TestResolve_DoesNotRetryNotFound(t *testing.T) {
	store := newFakeStore()
	r := newReconciler(store, identity.Options{Retry: resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}})

	_, err := r.Resolve(context.Background(), principal())
	require.NoError(t, err)
	selects, inserts := store.counts()
	assert.Equal(t, 1, selects)
	assert.Equal(t, 1, inserts)
}
