package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keyxmakerx/bidhouse/internal/plugins/smtp"
)

// --- In-memory Store ---

// memStore implements Store over maps. Reads hand out copies, the way rows
// come back from the database, and WithinTx rolls every map back when fn
// fails. Setting fail[op] makes that operation return the error.
type memStore struct {
	mu         sync.Mutex
	identities map[string]*Identity
	profiles   map[string]Profile // keyed by identity id
	seq        int64
	fail       map[string]error
	txCalls    int
}

func newMemStore() *memStore {
	return &memStore{
		identities: map[string]*Identity{},
		profiles:   map[string]Profile{},
		fail:       map[string]error{},
	}
}

func (s *memStore) Identities() IdentityRepository { return memIdentities{s} }
func (s *memStore) Profiles() ProfileRepository    { return memProfiles{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	s.txCalls++
	identities, profiles := s.snapshot()
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.identities, s.profiles = identities, profiles
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) snapshot() (map[string]*Identity, map[string]Profile) {
	identities := make(map[string]*Identity, len(s.identities))
	for k, v := range s.identities {
		identities[k] = cloneIdentity(v)
	}
	profiles := make(map[string]Profile, len(s.profiles))
	for k, v := range s.profiles {
		profiles[k] = cloneProfile(v)
	}
	return identities, profiles
}

func (s *memStore) failure(op string) error {
	return s.fail[op]
}

func (s *memStore) tick() time.Time {
	s.seq++
	return time.Unix(1_700_000_000+s.seq, 0).UTC()
}

// identity returns a copy of the stored identity, for assertions.
func (s *memStore) identity(id string) *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneIdentity(s.identities[id])
}

// identityByEmail returns a copy of the stored identity with email.
func (s *memStore) identityByEmail(email string) *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.identities {
		if v.Email == email {
			return cloneIdentity(v)
		}
	}
	return nil
}

// profile returns a copy of the profile owned by identityID.
func (s *memStore) profile(identityID string) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProfile(s.profiles[identityID])
}

func (s *memStore) counts() (identities, profiles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities), len(s.profiles)
}

func cloneIdentity(i *Identity) *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.Registration != nil {
		r := *i.Registration
		c.Registration = &r
	}
	if i.Reset != nil {
		r := *i.Reset
		c.Reset = &r
	}
	if i.BannedUntil != nil {
		t := *i.BannedUntil
		c.BannedUntil = &t
	}
	return &c
}

func cloneProfile(p Profile) Profile {
	switch v := p.(type) {
	case *BidderProfile:
		c := *v
		return &c
	case *MerchantProfile:
		c := *v
		if v.SuspendedUntil != nil {
			t := *v.SuspendedUntil
			c.SuspendedUntil = &t
		}
		return &c
	case *OperatorProfile:
		c := *v
		return &c
	}
	return nil
}

type memIdentities struct{ s *memStore }

func (r memIdentities) Create(_ context.Context, identity *Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("identities.create"); err != nil {
		return err
	}
	for _, v := range r.s.identities {
		if v.Email == identity.Email {
			return fmt.Errorf("inserting identity: duplicate email %q", identity.Email)
		}
	}
	now := r.s.tick()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	r.s.identities[identity.ID] = cloneIdentity(identity)
	return nil
}

func (r memIdentities) FindByID(_ context.Context, id string) (*Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("identities.find"); err != nil {
		return nil, err
	}
	return cloneIdentity(r.s.identities[id]), nil
}

func (r memIdentities) FindByEmail(_ context.Context, email string) (*Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("identities.find"); err != nil {
		return nil, err
	}
	for _, v := range r.s.identities {
		if v.Email == email {
			return cloneIdentity(v), nil
		}
	}
	return nil, nil
}

// update applies fn to a stored identity under the lock.
func (r memIdentities) update(op, id string, fn func(*Identity)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure(op); err != nil {
		return err
	}
	v, ok := r.s.identities[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, errNoRowsAffected)
	}
	fn(v)
	v.UpdatedAt = r.s.tick()
	return nil
}

func (r memIdentities) UpdateRegistration(_ context.Context, id string, role Role, code *PendingCode) error {
	return r.update("identities.update_registration", id, func(v *Identity) {
		v.Role = role
		v.Registration = nil
		if code != nil {
			c := *code
			v.Registration = &c
		}
	})
}

func (r memIdentities) MarkVerified(_ context.Context, id string) error {
	return r.update("identities.mark_verified", id, func(v *Identity) {
		v.Verified = true
		v.Registration = nil
	})
}

func (r memIdentities) SetResetCode(_ context.Context, id string, code *PendingCode) error {
	return r.update("identities.set_reset", id, func(v *Identity) {
		v.Reset = nil
		if code != nil {
			c := *code
			v.Reset = &c
		}
	})
}

func (r memIdentities) ConsumeResetCode(_ context.Context, id, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("identities.consume_reset"); err != nil {
		return false, err
	}
	v, ok := r.s.identities[id]
	if !ok || v.Reset == nil || v.Reset.Code != code {
		return false, nil
	}
	v.Reset = nil
	v.UpdatedAt = r.s.tick()
	return true, nil
}

func (r memIdentities) UpdateBan(_ context.Context, id string, banned bool, reason string, until *time.Time) error {
	return r.update("identities.update_ban", id, func(v *Identity) {
		v.Banned = banned
		v.BanReason = reason
		v.BannedUntil = nil
		if until != nil {
			t := *until
			v.BannedUntil = &t
		}
	})
}

func (r memIdentities) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("identities.delete"); err != nil {
		return err
	}
	delete(r.s.identities, id)
	delete(r.s.profiles, id)
	return nil
}

type memProfiles struct{ s *memStore }

func (r memProfiles) Create(_ context.Context, p Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("profiles.create"); err != nil {
		return err
	}
	b := p.Base()
	if _, ok := r.s.profiles[b.IdentityID]; ok {
		return fmt.Errorf("inserting %s profile: identity %s already has one", p.Role(), b.IdentityID)
	}
	now := r.s.tick()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	r.s.profiles[b.IdentityID] = cloneProfile(p)
	return nil
}

func (r memProfiles) Update(_ context.Context, p Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("profiles.update"); err != nil {
		return err
	}
	b := p.Base()
	for k, v := range r.s.profiles {
		if v.Base().ID == b.ID {
			b.UpdatedAt = r.s.tick()
			r.s.profiles[k] = cloneProfile(p)
			return nil
		}
	}
	return nil
}

func (r memProfiles) FindByIdentity(_ context.Context, identityID string, role Role) (Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("profiles.find"); err != nil {
		return nil, err
	}
	p, ok := r.s.profiles[identityID]
	if !ok || p.Role() != role {
		return nil, nil
	}
	return cloneProfile(p), nil
}

func (r memProfiles) FindByUsername(_ context.Context, username string) (*ProfileMatch, error) {
	return r.findMatch(RoleBidder, func(p Profile) bool {
		return p.(*BidderProfile).Username == username
	})
}

func (r memProfiles) FindByContact(_ context.Context, role Role, contact string) (*ProfileMatch, error) {
	return r.findMatch(role, func(p Profile) bool {
		return p.Base().Contact == contact
	})
}

func (r memProfiles) ListByUsername(_ context.Context, username string) ([]ProfileMatch, error) {
	return r.listMatches(RoleBidder, func(p Profile) bool {
		return p.(*BidderProfile).Username == username
	})
}

func (r memProfiles) findMatch(role Role, match func(Profile) bool) (*ProfileMatch, error) {
	matches, err := r.listMatches(role, match)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// listMatches mirrors the SQL ordering: verified owners first, then the
// most recently updated profile.
func (r memProfiles) listMatches(role Role, match func(Profile) bool) ([]ProfileMatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("profiles.find"); err != nil {
		return nil, err
	}
	var matches []ProfileMatch
	for id, p := range r.s.profiles {
		if p.Role() != role || !match(p) {
			continue
		}
		owner := r.s.identities[id]
		matches = append(matches, ProfileMatch{
			Profile:       cloneProfile(p),
			OwnerVerified: owner != nil && owner.Verified,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].OwnerVerified != matches[j].OwnerVerified {
			return matches[i].OwnerVerified
		}
		return matches[i].Profile.Base().UpdatedAt.After(matches[j].Profile.Base().UpdatedAt)
	})
	return matches, nil
}

func (r memProfiles) UpdatePassword(_ context.Context, identityID string, role Role, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("profiles.update_password"); err != nil {
		return err
	}
	p, ok := r.s.profiles[identityID]
	if !ok || p.Role() != role {
		return fmt.Errorf("updating password: %w", errNoRowsAffected)
	}
	p.Base().PasswordHash = passwordHash
	p.Base().UpdatedAt = r.s.tick()
	return nil
}

func (r memProfiles) DeleteByIdentity(_ context.Context, identityID string, role Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("profiles.delete"); err != nil {
		return err
	}
	if p, ok := r.s.profiles[identityID]; ok && p.Role() == role {
		delete(r.s.profiles, identityID)
	}
	return nil
}

// --- Collaborator fakes ---

// fakeHasher "hashes" by prefixing, keeping tests fast.
type fakeHasher struct {
	hashErr error
}

func (h fakeHasher) Hash(plaintext string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return "hashed:" + plaintext, nil
}

func (h fakeHasher) Compare(plaintext, hash string) bool {
	return hash != "" && hash == "hashed:"+plaintext
}

// sentMessage is one Send call recorded by mockNotifier.
type sentMessage struct {
	Recipient string
	Kind      smtp.TemplateKind
	Vars      map[string]string
}

// mockNotifier records sends. sendFn overrides the default success result.
type mockNotifier struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(recipient string, kind smtp.TemplateKind) smtp.DispatchResult
}

func (n *mockNotifier) Send(_ context.Context, recipient string, kind smtp.TemplateKind, vars map[string]string) smtp.DispatchResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{Recipient: recipient, Kind: kind, Vars: vars})
	if n.sendFn != nil {
		return n.sendFn(recipient, kind)
	}
	return smtp.DispatchResult{Success: true, Message: "email sent"}
}

// failWith makes every following send fail.
func (n *mockNotifier) failWith(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendFn = func(string, smtp.TemplateKind) smtp.DispatchResult {
		return smtp.DispatchResult{Success: false, Message: message}
	}
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// lastCode returns the code carried by the most recent send.
func (n *mockNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return n.sent[len(n.sent)-1].Vars["code"]
}

func (n *mockNotifier) last() sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Harness ---

const testSecret = "test-secret-key-at-least-32-bytes!!"

// harness wires every workflow to the same fakes.
type harness struct {
	store    *memStore
	notifier *mockNotifier
	clock    *testClock
	deps     Deps

	registration RegistrationService
	verification VerificationService
	reset        ResetService
	sessions     SessionService
	operator     OperatorService
}

type harnessOption func(*Deps)

func withAttempts(limiter AttemptLimiter, max int) harnessOption {
	return func(d *Deps) {
		d.Attempts = limiter
		d.MaxAttempts = max
	}
}

func withHasher(h Hasher) harnessOption {
	return func(d *Deps) { d.Hasher = h }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		notifier: &mockNotifier{},
		clock:    newTestClock(),
	}
	h.deps = Deps{
		Store:    h.store,
		Hasher:   fakeHasher{},
		Codes:    NewCodeGenerator(6, 10*time.Minute, h.clock.Now),
		Tokens:   NewTokenIssuer(testSecret, 24*time.Hour, 7*24*time.Hour, h.clock.Now),
		Notifier: h.notifier,
		Now:      h.clock.Now,
	}
	for _, opt := range opts {
		opt(&h.deps)
	}
	h.registration = NewRegistrationService(h.deps)
	h.verification = NewVerificationService(h.deps)
	h.reset = NewResetService(h.deps)
	h.sessions = NewSessionService(h.deps)
	h.operator = NewOperatorService(h.deps)
	return h
}

func bidderInput(email, username, contact string) RegisterInput {
	return RegisterInput{
		Role:     RoleBidder,
		Email:    email,
		FullName: "Ada Lovelace",
		Username: username,
		Contact:  contact,
		Password: "correct-horse",
	}
}

func merchantInput(email, contact string) RegisterInput {
	return RegisterInput{
		Role:         RoleMerchant,
		Email:        email,
		FullName:     "Grace Hopper",
		Contact:      contact,
		BusinessName: "Hopper Antiques",
		Password:     "correct-horse",
	}
}

// register runs a sign-up that must succeed and returns the result and the
// emailed code.
func (h *harness) register(t *testing.T, input RegisterInput) (*Result, string) {
	t.Helper()
	res, err := h.registration.Register(context.Background(), input)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", input.Email, err)
	}
	return res, h.notifier.lastCode(t)
}

// registerVerified signs up and verifies an account, returning its identity.
func (h *harness) registerVerified(t *testing.T, input RegisterInput) *Identity {
	t.Helper()
	_, code := h.register(t, input)
	identifier := input.Email
	if input.Role == RoleBidder {
		identifier = input.Username
	}
	if _, err := h.verification.Verify(context.Background(), VerifyInput{Identifier: identifier, Role: input.Role, Code: code}); err != nil {
		t.Fatalf("Verify(%s) failed: %v", identifier, err)
	}
	return h.store.identityByEmail(strings.ToLower(input.Email))
}

// wrongCode returns a well-formed code that differs from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

var errStoreDown = errors.New("connection refused")
