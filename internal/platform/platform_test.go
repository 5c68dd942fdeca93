package platform

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"deployx/internal/errdefs"
)

func TestNewRegistry(t *testing.T) {
	wantCaps := map[string]Capability{
		"github-pages": {CreateResource: true, HealthCheck: true},
		"vercel":       {CreateResource: true, Rollback: true, StreamLogs: true, HealthCheck: true},
		"netlify":      {CreateResource: true, Rollback: true, HealthCheck: true},
		"railway":      {CreateResource: true, StreamLogs: true},
		"render":       {Rollback: true, StreamLogs: true, HealthCheck: true},
	}

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			adapter, err := New(name, map[string]string{}, time.Second)
			if err != nil {
				t.Fatalf("New(%s) error = %v", name, err)
			}
			if adapter.Name() != name {
				t.Errorf("Name() = %v, want %v", adapter.Name(), name)
			}
			if got := adapter.Capabilities(); got != wantCaps[name] {
				t.Errorf("Capabilities() = %+v, want %+v", got, wantCaps[name])
			}
			// Capabilities must be stable across calls.
			if adapter.Capabilities() != adapter.Capabilities() {
				t.Error("Capabilities() not stable")
			}
			if TokenURL(name) == "" {
				t.Errorf("TokenURL(%s) is empty", name)
			}
		})
	}
}

func TestNewUnknownPlatform(t *testing.T) {
	_, err := New("heroku", nil, time.Second)
	if err == nil {
		t.Fatal("New(heroku) did not fail")
	}
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Errorf("KindOf = %v, want KindConfiguration", errdefs.KindOf(err))
	}
}

func response(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want errdefs.Kind
	}{
		{200, errdefs.KindUnknown},
		{201, errdefs.KindUnknown},
		{401, errdefs.KindAuthenticationInvalid},
		{403, errdefs.KindAuthenticationInvalid},
		{404, errdefs.KindPermanentPlatform},
		{408, errdefs.KindTransientPlatform},
		{422, errdefs.KindPermanentPlatform},
		{429, errdefs.KindTransientPlatform},
		{500, errdefs.KindTransientPlatform},
		{503, errdefs.KindTransientPlatform},
	}

	for _, tt := range tests {
		err := classifyStatus("vercel", response(tt.code, "body"))
		if tt.code < 300 {
			if err != nil {
				t.Errorf("classifyStatus(%d) = %v, want nil", tt.code, err)
			}
			continue
		}
		if errdefs.KindOf(err) != tt.want {
			t.Errorf("classifyStatus(%d) kind = %v, want %v", tt.code, errdefs.KindOf(err), tt.want)
		}
	}
}

func TestNotFound(t *testing.T) {
	err404 := classifyStatus("netlify", response(404, "nope"))
	if !notFound(err404) {
		t.Error("notFound(404) = false")
	}
	err400 := classifyStatus("netlify", response(400, "bad"))
	if notFound(err400) {
		t.Error("notFound(400) = true")
	}
	if notFound(errors.New("HTTP 404: fake")) {
		t.Error("notFound matched on message text")
	}
}

func TestSliceStream(t *testing.T) {
	stream := newSliceStream([]string{"one", "two"})
	defer stream.Close()

	for _, want := range []string{"one", "two"} {
		got, err := stream.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if got != want {
			t.Errorf("Next() = %q, want %q", got, want)
		}
	}
	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end error = %v, want io.EOF", err)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"single", "single"},
		{"first\nsecond", "first"},
		{"  padded  \n", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
