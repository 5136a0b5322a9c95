package identity_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	identity "github.com/quartzestates/identity-core"
)

// fakePrincipals is an in-memory credential store. The embedded
// repository interface is left nil; anything the engines don't call
// stays unimplemented.
type fakePrincipals struct {
	repository.Repository[*identity.Principal]

	mu      sync.Mutex
	byEmail map[string]*identity.Principal
}

func newFakePrincipals() *fakePrincipals {
	return &fakePrincipals{byEmail: map[string]*identity.Principal{}}
}

func (f *fakePrincipals) add(p *identity.Principal) *identity.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.byEmail[strings.ToLower(p.Email)] = p
	return p
}

func (f *fakePrincipals) GetByEmail(_ context.Context, email string) (*identity.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	clone := *p
	return &clone, nil
}

func (f *fakePrincipals) GetByEmailTx(ctx context.Context, _ bun.IDB, email string) (*identity.Principal, error) {
	return f.GetByEmail(ctx, email)
}

func (f *fakePrincipals) GetByEmailAndPhone(ctx context.Context, email, phone string) (*identity.Principal, error) {
	p, err := f.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if p.Phone == "" || !identity.SamePhone(p.Phone, phone) {
		return nil, repository.NewRecordNotFound()
	}
	return p, nil
}

func (f *fakePrincipals) Create(_ context.Context, record *identity.Principal, _ ...repository.InsertCriteria) (*identity.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(record.Email)
	if _, exists := f.byEmail[key]; exists {
		return nil, goerrors.New("duplicate email", goerrors.CategoryConflict)
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	f.byEmail[key] = record
	return record, nil
}

func (f *fakePrincipals) CreateTx(ctx context.Context, _ bun.IDB, record *identity.Principal, criteria ...repository.InsertCriteria) (*identity.Principal, error) {
	return f.Create(ctx, record, criteria...)
}

func (f *fakePrincipals) SetPassword(_ context.Context, id uuid.UUID, passwordHash string, mustChange bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.byEmail {
		if p.ID == id {
			p.PasswordHash = passwordHash
			p.MustChangePassword = mustChange
			return nil
		}
	}
	return repository.NewRecordNotFound()
}

func (f *fakePrincipals) SetPasswordTx(ctx context.Context, _ bun.IDB, id uuid.UUID, passwordHash string, mustChange bool) error {
	return f.SetPassword(ctx, id, passwordHash, mustChange)
}

// fakeRepo satisfies RepositoryManager for engine tests; transactions
// run the callback against the in-memory store.
type fakeRepo struct {
	principals *fakePrincipals
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{principals: newFakePrincipals()}
}

func (f *fakeRepo) Validate() error { return nil }
func (f *fakeRepo) MustValidate()   {}

func (f *fakeRepo) RunInTx(ctx context.Context, _ *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	return fn(ctx, bun.Tx{})
}

func (f *fakeRepo) Principals() identity.Principals { return f.principals }

// recordingNotifier captures dispatched codes so tests can assert the
// out-of-band channel was requested.
type recordingNotifier struct {
	mu    sync.Mutex
	sends []notifierSend
	done  chan struct{}
}

type notifierSend struct {
	Email string
	Kind  identity.PendingKind
	Code  string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, 16)}
}

func (n *recordingNotifier) SendCode(_ context.Context, email string, kind identity.PendingKind, code string) error {
	n.mu.Lock()
	n.sends = append(n.sends, notifierSend{Email: email, Kind: kind, Code: code})
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func (n *recordingNotifier) last() (notifierSend, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sends) == 0 {
		return notifierSend{}, false
	}
	return n.sends[len(n.sends)-1], true
}

func newTestPendingStore(t *testing.T) *identity.RedisPendingStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return identity.NewRedisPendingStore(client)
}

func testConfig() identity.Config {
	return identity.Config{
		BcryptCost:  bcrypt.MinCost,
		ExposeCodes: true,
		SigningKey:  "test-signing-key",
		Issuer:      "test-issuer",
	}.WithDefaults()
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := identity.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}
