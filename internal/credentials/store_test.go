package credentials

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return store, dir
}

func TestPutGetRoundtrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	cred := Credential{
		Platform: "vercel",
		Kind:     KindOpaqueToken,
		Token:    "tok_super_secret_value",
	}
	if err := store.Put(cred); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "vercel")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want credential")
	}
	if got.Token != cred.Token {
		t.Errorf("Token = %v, want %v", got.Token, cred.Token)
	}
	if got.AcquiredAt.IsZero() {
		t.Error("AcquiredAt was not stamped on Put")
	}

	absent, err := store.Get(ctx, "netlify")
	if err != nil {
		t.Fatalf("Get(absent) error = %v", err)
	}
	if absent != nil {
		t.Errorf("Get(absent) = %v, want nil", absent)
	}
}

func TestEncryptedAtRest(t *testing.T) {
	store, dir := openTestStore(t)

	secret := "tok_must_never_touch_disk_in_plaintext"
	if err := store.Put(Credential{Platform: "render", Kind: KindOpaqueToken, Token: secret}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "credentials.enc"))
	if err != nil {
		t.Fatalf("read credential file: %v", err)
	}
	if bytes.Contains(data, []byte(secret)) {
		t.Error("credential file contains the plaintext token")
	}
	if bytes.Contains(data, []byte("render")) {
		t.Error("credential file contains the plaintext platform name")
	}

	info, err := os.Stat(filepath.Join(dir, "credentials.enc"))
	if err != nil {
		t.Fatalf("stat credential file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credential file mode = %o, want 0600", perm)
	}
}

func TestReopenWithSameKey(t *testing.T) {
	store, dir := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(Credential{Platform: "netlify", Kind: KindOpaqueToken, Token: "tok_abc"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() second time error = %v", err)
	}
	got, err := reopened.Get(ctx, "netlify")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got == nil || got.Token != "tok_abc" {
		t.Errorf("Get() after reopen = %v, want token tok_abc", got)
	}
}

func TestClear(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(Credential{Platform: "railway", Kind: KindOpaqueToken, Token: "tok"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Clear("railway"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, err := store.Get(ctx, "railway")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() after Clear = %v, want nil", got)
	}

	// Clearing twice is fine.
	if err := store.Clear("railway"); err != nil {
		t.Errorf("Clear() twice error = %v", err)
	}
}

func TestExpiredOAuthRefresh(t *testing.T) {
	ctx := context.Background()
	expired := Credential{
		Platform:     "netlify",
		Kind:         KindOAuthPair,
		Token:        "tok_old",
		RefreshToken: "refresh_1",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}

	t.Run("refresh succeeds", func(t *testing.T) {
		store, _ := openTestStore(t)
		if err := store.Put(expired); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		store.SetRefresher(func(ctx context.Context, cred Credential) (Credential, error) {
			cred.Token = "tok_new"
			cred.ExpiresAt = time.Now().Add(time.Hour)
			return cred, nil
		})

		got, err := store.Get(ctx, "netlify")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got == nil || got.Token != "tok_new" {
			t.Fatalf("Get() = %v, want refreshed token", got)
		}

		// The refreshed credential was persisted.
		again, err := store.Get(ctx, "netlify")
		if err != nil {
			t.Fatalf("Get() again error = %v", err)
		}
		if again == nil || again.Token != "tok_new" {
			t.Errorf("Get() again = %v, want persisted refreshed token", again)
		}
	})

	t.Run("refresh failure means absent", func(t *testing.T) {
		store, _ := openTestStore(t)
		if err := store.Put(expired); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		store.SetRefresher(func(ctx context.Context, cred Credential) (Credential, error) {
			return Credential{}, errors.New("refresh endpoint down")
		})

		got, err := store.Get(ctx, "netlify")
		if err != nil {
			t.Fatalf("Get() error = %v, refresh failure must not error", err)
		}
		if got != nil {
			t.Errorf("Get() = %v, want nil after refresh failure", got)
		}
	})

	t.Run("expired opaque token is absent", func(t *testing.T) {
		store, _ := openTestStore(t)
		opaque := expired
		opaque.Kind = KindOpaqueToken
		if err := store.Put(opaque); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := store.Get(ctx, "netlify")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != nil {
			t.Errorf("Get() = %v, want nil for expired opaque token", got)
		}
	})
}

func TestDescribeHasNoSecret(t *testing.T) {
	cred := Credential{Platform: "vercel", Kind: KindOpaqueToken, Token: "tok_secret"}
	desc := cred.Describe()
	if bytes.Contains([]byte(desc), []byte("tok_secret")) {
		t.Errorf("Describe() = %q leaks the token", desc)
	}
}
