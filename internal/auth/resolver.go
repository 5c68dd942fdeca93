package auth

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/logger"
	"deployx/internal/platform"
)

// Validator makes one live call against the platform to check a
// credential. Injected so resolution can be tested without network.
type Validator func(ctx context.Context, platformName string, cred *credentials.Credential) error

// Resolver produces a usable credential for a platform by walking
// three tiers in order: a live CLI session, a stored token, then
// interactive guided setup. Within one process a platform is resolved
// at most once; later calls return the cached result.
type Resolver struct {
	store    *credentials.Store
	interact Interactor
	validate Validator
	log      *logrus.Entry

	mu    sync.Mutex
	cache map[string]*credentials.Credential
}

func NewResolver(store *credentials.Store, interact Interactor, validate Validator) *Resolver {
	return &Resolver{
		store:    store,
		interact: interact,
		validate: validate,
		log:      logger.WithModule("auth"),
		cache:    map[string]*credentials.Credential{},
	}
}

// Resolve returns a credential for the platform or an authentication
// error carrying the remedy. It never returns (nil, nil).
func (r *Resolver) Resolve(ctx context.Context, platformName string) (*credentials.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cred, ok := r.cache[platformName]; ok {
		return cred, nil
	}

	if cred := ProbeSession(ctx, platformName); cred != nil {
		r.log.WithFields(logrus.Fields{
			"platform": platformName,
			"tool":     cred.Tool,
		}).Debug("using CLI session")
		r.cache[platformName] = cred
		return cred, nil
	}

	stored, err := r.store.Get(ctx, platformName)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		verr := r.validate(ctx, platformName, stored)
		if verr == nil {
			r.log.WithField("credential", stored.Describe()).Debug("using stored credential")
			r.cache[platformName] = stored
			return stored, nil
		}
		if errdefs.KindOf(verr) != errdefs.KindAuthenticationInvalid {
			// Transient or network trouble; do not discard a credential
			// that may still be good.
			return nil, verr
		}
		r.log.WithField("platform", platformName).Warn("stored credential rejected, clearing")
		if err := r.store.Clear(platformName); err != nil {
			return nil, err
		}
	}

	cred, err := r.guidedSetup(ctx, platformName)
	if err != nil {
		return nil, err
	}
	r.cache[platformName] = cred
	return cred, nil
}

// Setup runs guided setup directly, bypassing session and stored
// tiers. Backs the explicit auth setup command.
func (r *Resolver) Setup(ctx context.Context, platformName string) (*credentials.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, err := r.guidedSetup(ctx, platformName)
	if err != nil {
		return nil, err
	}
	r.cache[platformName] = cred
	return cred, nil
}

func (r *Resolver) guidedSetup(ctx context.Context, platformName string) (*credentials.Credential, error) {
	token, err := r.acquireToken(ctx, platformName)
	if err != nil {
		if err == ErrUnavailable {
			return nil, errdefs.AuthenticationRequired(platformName,
				"no credential available and no terminal for guided setup")
		}
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errdefs.AuthenticationRequired(platformName, "guided setup produced no token")
	}

	cred := &credentials.Credential{
		Platform:   platformName,
		Kind:       credentials.KindOpaqueToken,
		Token:      token,
		AcquiredAt: time.Now().UTC(),
	}
	if err := r.validate(ctx, platformName, cred); err != nil {
		return nil, err
	}
	if err := r.store.Put(*cred); err != nil {
		return nil, err
	}
	r.interact.Notify(fmt.Sprintf("Credential for %s verified and stored.", platformName))
	return cred, nil
}

// acquireToken obtains a token interactively: a browser authorization
// flow when the platform has one configured, otherwise opening the
// token page and asking for a paste.
func (r *Resolver) acquireToken(ctx context.Context, platformName string) (string, error) {
	if authorize := authorizeURL(platformName); authorize != "" {
		token, err := r.browserFlow(ctx, platformName, authorize)
		if err == nil {
			return token, nil
		}
		if err == ErrUnavailable {
			return "", err
		}
		r.log.WithError(err).Debug("browser flow failed, falling back to token paste")
	}

	tokenPage := platform.TokenURL(platformName)
	r.interact.Notify(fmt.Sprintf("Create a token for %s at:\n  %s", platformName, tokenPage))
	if ok, err := r.interact.Confirm("Open the token page in your browser?"); err != nil {
		return "", err
	} else if ok {
		if err := openBrowser(tokenPage); err != nil {
			r.log.WithError(err).Debug("browser launch failed")
		}
	}
	return r.interact.AskSecret(fmt.Sprintf("Paste your %s token", platformName))
}

func (r *Resolver) browserFlow(ctx context.Context, platformName, authorize string) (string, error) {
	if _, ok := r.interact.(noopInteractor); ok {
		return "", ErrUnavailable
	}

	cs, err := newCallbackServer()
	if err != nil {
		return "", err
	}
	defer cs.Close()

	full := fmt.Sprintf("%s&redirect_uri=%s&state=%s",
		authorize, url.QueryEscape(cs.RedirectURL()), cs.State())
	r.interact.Notify(fmt.Sprintf("Authorize deployx in your browser:\n  %s", full))
	if err := openBrowser(full); err != nil {
		r.log.WithError(err).Debug("browser launch failed")
	}
	return cs.Wait(ctx, 2*time.Minute)
}

// authorizeURL returns a browser authorization endpoint for platforms
// that support the loopback flow, empty otherwise. The client id comes
// from the environment because it is deployment-specific, not secret.
func authorizeURL(platformName string) string {
	if platformName != "netlify" {
		return ""
	}
	clientID := os.Getenv("DEPLOYX_NETLIFY_CLIENT_ID")
	if clientID == "" {
		return ""
	}
	return "https://app.netlify.com/authorize?response_type=token&client_id=" + url.QueryEscape(clientID)
}

// TierStatus describes where a platform's credential would come from,
// for the auth status command. It performs the session probe but never
// prompts.
type TierStatus struct {
	Platform    string
	SessionTool string
	HasSession  bool
	HasStored   bool
	StoredKind  credentials.Kind
}

func (r *Resolver) Status(ctx context.Context, platformName string) (TierStatus, error) {
	st := TierStatus{Platform: platformName, SessionTool: SessionTool(platformName)}
	if cred := ProbeSession(ctx, platformName); cred != nil {
		st.HasSession = true
	}
	stored, err := r.store.Get(ctx, platformName)
	if err != nil {
		return st, err
	}
	if stored != nil {
		st.HasStored = true
		st.StoredKind = stored.Kind
	}
	return st, nil
}

// Clear drops both the cached and stored credential for a platform.
func (r *Resolver) Clear(platformName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, platformName)
	return r.store.Clear(platformName)
}
