package auth

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"deployx/internal/credentials"
)

// sessionProbe maps a platform to the CLI whose logged-in session it
// can borrow, and the command that proves the session is live.
type sessionProbe struct {
	tool      string
	checkArgs []string
}

var sessionProbes = map[string]sessionProbe{
	"github-pages": {tool: "gh", checkArgs: []string{"auth", "status"}},
	"vercel":       {tool: "vercel", checkArgs: []string{"whoami"}},
	"railway":      {tool: "railway", checkArgs: []string{"whoami"}},
}

// Seams for tests; probing otherwise shells out for real.
var (
	lookPath = exec.LookPath

	runSessionCheck = func(ctx context.Context, tool string, args []string) error {
		return exec.CommandContext(ctx, tool, args...).Run()
	}

	readSessionToken = func(ctx context.Context) string {
		out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
)

// ProbeSession checks for an authenticated CLI session for the
// platform. It returns nil when the platform has no companion CLI,
// the tool is not installed, or the session check fails; a session
// probe never produces an error, absence just moves resolution to the
// next tier.
func ProbeSession(ctx context.Context, platform string) *credentials.Credential {
	probe, ok := sessionProbes[platform]
	if !ok {
		return nil
	}
	if _, err := lookPath(probe.tool); err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := runSessionCheck(ctx, probe.tool, probe.checkArgs); err != nil {
		return nil
	}

	cred := &credentials.Credential{
		Platform:   platform,
		Kind:       credentials.KindSessionReference,
		Tool:       probe.tool,
		AcquiredAt: time.Now().UTC(),
	}

	// gh exposes the session token; having it lets the REST paths work
	// alongside the CLI ones.
	if probe.tool == "gh" {
		cred.Token = readSessionToken(ctx)
	}
	return cred
}

// SessionTool names the CLI a platform can delegate to, for status
// reporting. Empty when the platform has none.
func SessionTool(platform string) string {
	return sessionProbes[platform].tool
}
