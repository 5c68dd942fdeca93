package auth

import (
	"context"
	"errors"
	"testing"

	"deployx/internal/credentials"
	"deployx/internal/errdefs"
)

// The render platform has no companion CLI, so tests against it never
// hit the session tier regardless of what is installed locally.

type fakeInteractor struct {
	secret     string
	confirms   bool
	askedCount int
}

func (f *fakeInteractor) Confirm(string) (bool, error) { return f.confirms, nil }
func (f *fakeInteractor) AskSecret(string) (string, error) {
	f.askedCount++
	return f.secret, nil
}
func (f *fakeInteractor) Notify(string) {}

type countingValidator struct {
	calls int
	err   error
}

func (v *countingValidator) validate(ctx context.Context, platformName string, cred *credentials.Credential) error {
	v.calls++
	return v.err
}

func newTestStore(t *testing.T) *credentials.Store {
	t.Helper()
	store, err := credentials.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open credential store: %v", err)
	}
	return store
}

func TestResolveStoredToken(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(credentials.Credential{
		Platform: "render", Kind: credentials.KindOpaqueToken, Token: "tok_stored",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	validator := &countingValidator{}
	resolver := NewResolver(store, noopInteractor{}, validator.validate)

	cred, err := resolver.Resolve(context.Background(), "render")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred.Token != "tok_stored" {
		t.Errorf("Token = %v, want tok_stored", cred.Token)
	}
	if validator.calls != 1 {
		t.Errorf("validator calls = %d, want 1", validator.calls)
	}

	// Second resolve uses the per-run cache, no second validation.
	if _, err := resolver.Resolve(context.Background(), "render"); err != nil {
		t.Fatalf("Resolve() cached error = %v", err)
	}
	if validator.calls != 1 {
		t.Errorf("validator calls after cached resolve = %d, want 1", validator.calls)
	}
}

func TestResolveNonInteractiveWithoutCredential(t *testing.T) {
	store := newTestStore(t)
	validator := &countingValidator{}
	resolver := NewResolver(store, noopInteractor{}, validator.validate)

	_, err := resolver.Resolve(context.Background(), "render")
	if err == nil {
		t.Fatal("Resolve() did not fail without credential or terminal")
	}
	if errdefs.KindOf(err) != errdefs.KindAuthenticationRequired {
		t.Errorf("KindOf = %v, want KindAuthenticationRequired", errdefs.KindOf(err))
	}
	if errdefs.Remedy(err) == "" {
		t.Error("authentication-required error carries no remedy")
	}
}

func TestResolveInvalidStoredFallsToGuided(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(credentials.Credential{
		Platform: "render", Kind: credentials.KindOpaqueToken, Token: "tok_revoked",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// First validation rejects the stored token, the second accepts
	// whatever guided setup produced.
	calls := 0
	validate := func(ctx context.Context, platformName string, cred *credentials.Credential) error {
		calls++
		if cred.Token == "tok_revoked" {
			return errdefs.AuthenticationInvalid(platformName, errors.New("HTTP 401"))
		}
		return nil
	}
	interact := &fakeInteractor{secret: "tok_fresh"}
	resolver := NewResolver(store, interact, validate)

	cred, err := resolver.Resolve(context.Background(), "render")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred.Token != "tok_fresh" {
		t.Errorf("Token = %v, want tok_fresh", cred.Token)
	}
	if interact.askedCount != 1 {
		t.Errorf("askedCount = %d, want 1", interact.askedCount)
	}

	// The revoked credential was cleared and replaced in the store.
	stored, err := store.Get(context.Background(), "render")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored == nil || stored.Token != "tok_fresh" {
		t.Errorf("stored = %v, want fresh token persisted", stored)
	}
}

func TestResolveTransientValidationKeepsCredential(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(credentials.Credential{
		Platform: "render", Kind: credentials.KindOpaqueToken, Token: "tok_fine",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	validator := &countingValidator{err: errdefs.Transient("render", errors.New("HTTP 503"))}
	resolver := NewResolver(store, &fakeInteractor{secret: "tok_should_not_be_used"}, validator.validate)

	_, err := resolver.Resolve(context.Background(), "render")
	if errdefs.KindOf(err) != errdefs.KindTransientPlatform {
		t.Fatalf("Resolve() error = %v, want transient", err)
	}

	// A transient outage must not wipe a possibly-good credential.
	stored, err := store.Get(context.Background(), "render")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored == nil || stored.Token != "tok_fine" {
		t.Errorf("stored = %v, want original credential intact", stored)
	}
}

func TestSetupStoresVerifiedToken(t *testing.T) {
	store := newTestStore(t)
	validator := &countingValidator{}
	resolver := NewResolver(store, &fakeInteractor{secret: "  tok_pasted \n"}, validator.validate)

	cred, err := resolver.Setup(context.Background(), "render")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if cred.Token != "tok_pasted" {
		t.Errorf("Token = %q, want trimmed tok_pasted", cred.Token)
	}
	if cred.Kind != credentials.KindOpaqueToken {
		t.Errorf("Kind = %v, want opaque-token", cred.Kind)
	}
	if validator.calls != 1 {
		t.Errorf("validator calls = %d, want 1", validator.calls)
	}
}

func TestSetupRejectsInvalidToken(t *testing.T) {
	store := newTestStore(t)
	validator := &countingValidator{err: errdefs.AuthenticationInvalid("render", errors.New("HTTP 401"))}
	resolver := NewResolver(store, &fakeInteractor{secret: "tok_bad"}, validator.validate)

	_, err := resolver.Setup(context.Background(), "render")
	if errdefs.KindOf(err) != errdefs.KindAuthenticationInvalid {
		t.Fatalf("Setup() error = %v, want authentication invalid", err)
	}

	// A token that failed verification is never persisted.
	stored, err := store.Get(context.Background(), "render")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != nil {
		t.Errorf("stored = %v, want nil", stored)
	}
}

func TestClearDropsCache(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(credentials.Credential{
		Platform: "render", Kind: credentials.KindOpaqueToken, Token: "tok_1",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	validator := &countingValidator{}
	resolver := NewResolver(store, noopInteractor{}, validator.validate)

	if _, err := resolver.Resolve(context.Background(), "render"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := resolver.Clear("render"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	// With store and cache cleared, non-interactive resolve fails.
	_, err := resolver.Resolve(context.Background(), "render")
	if errdefs.KindOf(err) != errdefs.KindAuthenticationRequired {
		t.Errorf("Resolve() after Clear error = %v, want authentication required", err)
	}
}

func TestStatusReportsStored(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(credentials.Credential{
		Platform: "render", Kind: credentials.KindOpaqueToken, Token: "tok_1",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	resolver := NewResolver(store, noopInteractor{}, (&countingValidator{}).validate)

	st, err := resolver.Status(context.Background(), "render")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.HasSession {
		t.Error("HasSession = true for platform without companion CLI")
	}
	if !st.HasStored {
		t.Error("HasStored = false, want true")
	}
	if st.StoredKind != credentials.KindOpaqueToken {
		t.Errorf("StoredKind = %v, want opaque-token", st.StoredKind)
	}
	if st.SessionTool != "" {
		t.Errorf("SessionTool = %q, want empty for render", st.SessionTool)
	}
}
