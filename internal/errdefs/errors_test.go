package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitUnknown},
		{"auth required", AuthenticationRequired("vercel", "no credential"), 10},
		{"auth invalid", AuthenticationInvalid("vercel", errors.New("401")), 11},
		{"resource missing", ResourceMissing("render", "no service"), 20},
		{"transient", Transient("netlify", errors.New("503")), 21},
		{"permanent", Permanentf("railway", "bad request"), 22},
		{"configuration", Configuration("missing field", nil), 30},
		{"history", HistoryPersistence(errors.New("disk full")), 40},
		{"wrapped", fmt.Errorf("deploy: %w", Transient("vercel", errors.New("timeout"))), 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", Permanent("vercel", errors.New("inner")))
	if got := KindOf(err); got != KindPermanentPlatform {
		t.Errorf("KindOf(wrapped) = %v, want KindPermanentPlatform", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want KindUnknown", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %v, want KindUnknown", got)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(Transient("vercel", errors.New("503"))) {
		t.Error("IsTransient(transient) = false")
	}
	if IsTransient(Permanentf("vercel", "400")) {
		t.Error("IsTransient(permanent) = true")
	}
}

func TestRemedy(t *testing.T) {
	err := AuthenticationRequired("netlify", "no credential")
	if got := Remedy(err); got != "deployx auth setup netlify" {
		t.Errorf("Remedy() = %q, want %q", got, "deployx auth setup netlify")
	}
	if got := Remedy(errors.New("plain")); got != "" {
		t.Errorf("Remedy(plain) = %q, want empty", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := AuthenticationInvalid("vercel", errors.New("HTTP 401: bad token"))
	msg := err.Error()
	if want := "authentication invalid [vercel]: HTTP 401: bad token"; msg != want {
		t.Errorf("Error() = %q, want %q", msg, want)
	}

	var target *Error
	if !errors.As(err, &target) {
		t.Fatal("errors.As failed on *Error")
	}
	if !errors.Is(err, AuthenticationInvalid("other", nil)) {
		t.Error("errors.Is does not match same-kind errors")
	}
	if errors.Is(err, Transient("vercel", nil)) {
		t.Error("errors.Is matched a different kind")
	}
}
