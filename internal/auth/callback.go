package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"deployx/internal/logger"
)

// callbackServer is a short-lived loopback HTTP listener that receives
// the token leg of a browser authorization flow. It binds an ephemeral
// 127.0.0.1 port and accepts exactly one valid callback.
type callbackServer struct {
	state    string
	listener net.Listener
	server   *http.Server
	result   chan callbackResult
	log      *logrus.Entry
}

type callbackResult struct {
	token string
	err   error
}

func newCallbackServer() (*callbackServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind loopback listener: %w", err)
	}

	cs := &callbackServer{
		state:    uuid.New().String(),
		listener: listener,
		result:   make(chan callbackResult, 1),
		log:      logger.WithModule("auth-callback"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/callback", cs.handleCallback).Methods("GET")
	cs.server = &http.Server{Handler: router}

	go func() {
		if err := cs.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			cs.log.WithError(err).Debug("callback server stopped")
		}
	}()
	return cs, nil
}

// RedirectURL is the loopback address the authorize page must redirect
// back to.
func (cs *callbackServer) RedirectURL() string {
	return fmt.Sprintf("http://%s/callback", cs.listener.Addr().String())
}

// State is the anti-forgery value the authorize URL must carry.
func (cs *callbackServer) State() string {
	return cs.state
}

func (cs *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("state") != cs.state {
		cs.log.WithField("remote", r.RemoteAddr).Warn("callback with wrong state rejected")
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	token := q.Get("access_token")
	if token == "" {
		token = q.Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		select {
		case cs.result <- callbackResult{err: fmt.Errorf("authorization callback carried no token")}:
		default:
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><p>Authorized. You can close this tab and return to the terminal.</p></body></html>")

	select {
	case cs.result <- callbackResult{token: token}:
	default:
	}
}

// Wait blocks until the callback arrives, the context ends, or the
// timeout elapses.
func (cs *callbackServer) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-cs.result:
		return res.token, res.err
	case <-timer.C:
		return "", fmt.Errorf("timed out after %s waiting for browser authorization", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (cs *callbackServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cs.server.Shutdown(ctx)
}
