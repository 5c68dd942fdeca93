package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/models"
)

// Capability is the static set of optional operations an adapter
// supports. The orchestrator queries it before invoking any optional
// operation; calling an unsupported one is a programming error on the
// caller's side, never a network call.
type Capability struct {
	CreateResource bool
	Rollback       bool
	StreamLogs     bool
	HealthCheck    bool
}

// LogStream yields deployment log lines. Next returns io.EOF when a
// finite stream ends; follow streams end only on cancellation.
type LogStream interface {
	Next() (string, error)
	Close() error
}

// Adapter is the uniform deployment interface. One implementation per
// platform; adapters hold no state between calls and never persist
// anything themselves.
type Adapter interface {
	Name() string
	// Capabilities is pure: no I/O, same answer every call.
	Capabilities() Capability
	// ValidateCredential makes one live call to check the credential.
	ValidateCredential(ctx context.Context, cred *credentials.Credential) error
	// EnsureResource is idempotent: an existing compatible resource is
	// returned unchanged, an absent one is created when the adapter
	// can, otherwise the call fails with a resource-missing error.
	EnsureResource(ctx context.Context, req *models.DeploymentRequest, cred *credentials.Credential) (models.ResourceHandle, error)
	Deploy(ctx context.Context, handle models.ResourceHandle, req *models.DeploymentRequest, cred *credentials.Credential) (models.DeployResult, error)
	// Rollback returns false (not an error) when the target deployment
	// no longer exists on the remote side.
	Rollback(ctx context.Context, handle models.ResourceHandle, deploymentID string, cred *credentials.Credential) (bool, error)
	FetchLogs(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential, follow bool) (LogStream, error)
	HealthCheck(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) error
}

// New returns the adapter for the named platform. The set is closed:
// adding a platform means adding a case here plus its capability
// declaration, nothing in the orchestrator changes.
func New(name string, cfg map[string]string, timeout time.Duration) (Adapter, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch name {
	case "github-pages":
		return newGitHubPages(cfg, client), nil
	case "vercel":
		return newVercel(cfg, client), nil
	case "netlify":
		return newNetlify(cfg, client), nil
	case "railway":
		return newRailway(cfg, client), nil
	case "render":
		return newRender(cfg, client), nil
	default:
		return nil, errdefs.Configuration(fmt.Sprintf("unknown platform %q", name), nil)
	}
}

// Names lists the supported platform identifiers.
func Names() []string {
	return []string{"github-pages", "vercel", "netlify", "railway", "render"}
}

// TokenURL is the page where a user creates a token for the platform,
// used by guided auth setup.
func TokenURL(name string) string {
	switch name {
	case "github-pages":
		return "https://github.com/settings/tokens/new?scopes=repo,workflow&description=deployx"
	case "vercel":
		return "https://vercel.com/account/tokens"
	case "netlify":
		return "https://app.netlify.com/user/applications#personal-access-tokens"
	case "railway":
		return "https://railway.app/account/tokens"
	case "render":
		return "https://dashboard.render.com/account/api-keys"
	default:
		return ""
	}
}

// httpError carries the status code through the taxonomy so call
// sites can special-case 404 ("resource absent") without string
// matching.
type httpError struct {
	code int
	body string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// classifyStatus maps an HTTP status to the error taxonomy: auth
// failures on 401/403, retryable on 408/429/5xx, permanent otherwise.
func classifyStatus(platform string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	cause := &httpError{code: resp.StatusCode, body: readSnippet(resp.Body)}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errdefs.AuthenticationInvalid(platform, cause)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errdefs.Transient(platform, cause)
	default:
		return errdefs.Permanent(platform, cause)
	}
}

// classifyNetErr wraps a transport-level failure. Timeouts and
// connection errors are transient by definition.
func classifyNetErr(platform string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return errdefs.Transient(platform, fmt.Errorf("request timed out: %w", err))
	}
	return errdefs.Transient(platform, err)
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	if len(data) == 0 {
		return "(empty body)"
	}
	return string(bytes.TrimSpace(data))
}

// doJSON performs one JSON API call and decodes a 2xx response into
// out (which may be nil). Non-2xx responses come back classified.
func doJSON(ctx context.Context, client *http.Client, platform, method, url, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errdefs.Permanent(platform, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errdefs.Permanent(platform, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyNetErr(platform, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(platform, resp); err != nil {
		return err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errdefs.Permanent(platform, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// decodeBody decodes a JSON response body into out, tolerating nil out.
func decodeBody(r io.Reader, platform string, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return errdefs.Permanent(platform, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// notFound reports whether err came from a 404 response, which several
// adapters treat as "resource absent" rather than a failure.
func notFound(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.code == http.StatusNotFound
}
