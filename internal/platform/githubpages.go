package platform

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/logger"
	"deployx/internal/models"
)

const githubAPI = "https://api.github.com"

// githubPages publishes a build output directory to a gh-pages branch
// and enables GitHub Pages on the repository. With a session-reference
// credential it drives the gh CLI; with a token it talks to the REST
// API directly.
type githubPages struct {
	cfg    map[string]string
	client *http.Client
	log    *logrus.Entry
}

func newGitHubPages(cfg map[string]string, client *http.Client) *githubPages {
	return &githubPages{
		cfg:    cfg,
		client: client,
		log:    logger.WithModule("github-pages"),
	}
}

func (g *githubPages) Name() string { return "github-pages" }

func (g *githubPages) Capabilities() Capability {
	// Pages has no per-deploy rollback or build logs; a new push is
	// the only way back.
	return Capability{CreateResource: true, HealthCheck: true}
}

func (g *githubPages) ValidateCredential(ctx context.Context, cred *credentials.Credential) error {
	if cred.Kind == credentials.KindSessionReference {
		out, err := runCommand(ctx, "", nil, "gh", "auth", "status")
		if err != nil {
			return errdefs.AuthenticationInvalid("github-pages", fmt.Errorf("gh auth status: %s", firstLine(out)))
		}
		return nil
	}
	var user struct {
		Login string `json:"login"`
	}
	return doJSON(ctx, g.client, "github-pages", http.MethodGet, githubAPI+"/user", cred.Token, nil, &user)
}

func (g *githubPages) EnsureResource(ctx context.Context, req *models.DeploymentRequest, cred *credentials.Credential) (models.ResourceHandle, error) {
	owner, err := g.owner(ctx, cred)
	if err != nil {
		return models.ResourceHandle{}, err
	}
	repo := g.repoName(req)
	fullName := owner + "/" + repo

	exists, err := g.repoExists(ctx, fullName, cred)
	if err != nil {
		return models.ResourceHandle{}, err
	}
	if exists {
		return g.handle(owner, repo, false), nil
	}

	g.log.WithField("repo", fullName).Info("repository not found, creating")
	if err := g.createRepo(ctx, repo, cred); err != nil {
		return models.ResourceHandle{}, err
	}
	return g.handle(owner, repo, true), nil
}

func (g *githubPages) Deploy(ctx context.Context, handle models.ResourceHandle, req *models.DeploymentRequest, cred *credentials.Credential) (models.DeployResult, error) {
	artifact := req.ArtifactDir
	if _, err := os.Stat(artifact); err != nil {
		return models.DeployResult{}, errdefs.Permanentf("github-pages", "artifact dir %s: %v", artifact, err)
	}

	remote := fmt.Sprintf("https://github.com/%s.git", handle.ID)
	if cred.Kind != credentials.KindSessionReference {
		remote = fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", cred.Token, handle.ID)
	}

	// Publish the artifact dir as a fresh gh-pages commit. Force push:
	// the branch is generated output, not history worth keeping.
	steps := [][]string{
		{"git", "init", "--initial-branch", "gh-pages"},
		{"git", "add", "-A"},
		{"git", "-c", "user.name=deployx", "-c", "user.email=deploy@deployx.local",
			"commit", "-m", fmt.Sprintf("deploy %s", req.Project)},
		{"git", "push", "--force", remote, "gh-pages"},
	}
	for _, step := range steps {
		if out, err := runCommand(ctx, artifact, nil, step[0], step[1:]...); err != nil {
			// Token material can appear in git's error output via the
			// remote URL; scrub before wrapping.
			msg := firstLine(out)
			if cred.Token != "" {
				msg = strings.ReplaceAll(msg, cred.Token, "***")
			}
			return models.DeployResult{}, errdefs.Permanentf("github-pages", "%s: %s", step[1], msg)
		}
	}
	// The remote may briefly reject the pages call right after the
	// first push; treat it as best effort, pages stays enabled once set.
	if err := g.enablePages(ctx, handle.ID, cred); err != nil {
		g.log.WithError(err).Debug("enable pages call failed (possibly already enabled)")
	}

	commit, _ := runCommand(ctx, artifact, nil, "git", "rev-parse", "HEAD")
	deployID := strings.TrimSpace(commit)
	if deployID == "" {
		deployID = "gh-pages"
	}

	return models.DeployResult{
		DeploymentID: deployID,
		URL:          handle.URL,
		Message:      "pushed to gh-pages",
	}, nil
}

func (g *githubPages) Rollback(ctx context.Context, handle models.ResourceHandle, deploymentID string, cred *credentials.Credential) (bool, error) {
	return false, errdefs.Permanentf("github-pages", "rollback is not supported")
}

func (g *githubPages) FetchLogs(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential, follow bool) (LogStream, error) {
	return nil, errdefs.Permanentf("github-pages", "log streaming is not supported")
}

func (g *githubPages) HealthCheck(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) error {
	if cred.Kind == credentials.KindSessionReference {
		out, err := runCommand(ctx, "", nil, "gh", "api", fmt.Sprintf("repos/%s/pages", handle.ID))
		if err != nil {
			return errdefs.Permanentf("github-pages", "pages status: %s", firstLine(out))
		}
		return nil
	}
	var pages struct {
		Status string `json:"status"`
	}
	url := fmt.Sprintf("%s/repos/%s/pages", githubAPI, handle.ID)
	if err := doJSON(ctx, g.client, "github-pages", http.MethodGet, url, cred.Token, nil, &pages); err != nil {
		return err
	}
	if pages.Status == "errored" {
		return errdefs.Permanentf("github-pages", "pages build errored")
	}
	return nil
}

func (g *githubPages) handle(owner, repo string, created bool) models.ResourceHandle {
	return models.ResourceHandle{
		ID:      owner + "/" + repo,
		Name:    repo,
		URL:     fmt.Sprintf("https://%s.github.io/%s/", owner, repo),
		Created: created,
	}
}

func (g *githubPages) repoName(req *models.DeploymentRequest) string {
	if req.ResourceName != "" {
		return req.ResourceName
	}
	if repo := g.cfg["repo"]; repo != "" {
		return repo
	}
	return req.Project
}

func (g *githubPages) owner(ctx context.Context, cred *credentials.Credential) (string, error) {
	if owner := g.cfg["owner"]; owner != "" {
		return owner, nil
	}
	if cred.Kind == credentials.KindSessionReference {
		out, err := runCommand(ctx, "", nil, "gh", "api", "user", "--jq", ".login")
		if err != nil {
			return "", errdefs.AuthenticationInvalid("github-pages", fmt.Errorf("resolve user: %s", firstLine(out)))
		}
		return strings.TrimSpace(out), nil
	}
	var user struct {
		Login string `json:"login"`
	}
	if err := doJSON(ctx, g.client, "github-pages", http.MethodGet, githubAPI+"/user", cred.Token, nil, &user); err != nil {
		return "", err
	}
	return user.Login, nil
}

func (g *githubPages) repoExists(ctx context.Context, fullName string, cred *credentials.Credential) (bool, error) {
	if cred.Kind == credentials.KindSessionReference {
		_, err := runCommand(ctx, "", nil, "gh", "api", "repos/"+fullName)
		return err == nil, nil
	}
	err := doJSON(ctx, g.client, "github-pages", http.MethodGet, githubAPI+"/repos/"+fullName, cred.Token, nil, nil)
	if err == nil {
		return true, nil
	}
	if notFound(err) {
		return false, nil
	}
	return false, err
}

func (g *githubPages) createRepo(ctx context.Context, repo string, cred *credentials.Credential) error {
	if cred.Kind == credentials.KindSessionReference {
		if out, err := runCommand(ctx, "", nil, "gh", "repo", "create", repo, "--public"); err != nil {
			return errdefs.Permanentf("github-pages", "gh repo create: %s", firstLine(out))
		}
		return nil
	}
	body := map[string]interface{}{"name": repo, "has_wiki": false}
	return doJSON(ctx, g.client, "github-pages", http.MethodPost, githubAPI+"/user/repos", cred.Token, body, nil)
}

func (g *githubPages) enablePages(ctx context.Context, fullName string, cred *credentials.Credential) error {
	body := map[string]interface{}{
		"source": map[string]string{"branch": "gh-pages", "path": "/"},
	}
	if cred.Kind == credentials.KindSessionReference {
		payload := `{"source":{"branch":"gh-pages","path":"/"}}`
		out, err := runCommand(ctx, "", strings.NewReader(payload),
			"gh", "api", fmt.Sprintf("repos/%s/pages", fullName), "--method", "POST", "--input", "-")
		if err != nil && !strings.Contains(out, "already exists") {
			return fmt.Errorf("enable pages: %s", firstLine(out))
		}
		return nil
	}
	url := fmt.Sprintf("%s/repos/%s/pages", githubAPI, fullName)
	err := doJSON(ctx, g.client, "github-pages", http.MethodPost, url, cred.Token, body, nil)
	if err != nil && errdefs.KindOf(err) == errdefs.KindPermanentPlatform {
		// 409: pages already configured
		return nil
	}
	return err
}
