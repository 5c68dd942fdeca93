package platform

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/logger"
	"deployx/internal/models"
)

const netlifyAPI = "https://api.netlify.com/api/v1"

type netlify struct {
	cfg    map[string]string
	client *http.Client
	log    *logrus.Entry
}

func newNetlify(cfg map[string]string, client *http.Client) *netlify {
	return &netlify{cfg: cfg, client: client, log: logger.WithModule("netlify")}
}

func (n *netlify) Name() string { return "netlify" }

func (n *netlify) Capabilities() Capability {
	return Capability{CreateResource: true, Rollback: true, HealthCheck: true}
}

func (n *netlify) ValidateCredential(ctx context.Context, cred *credentials.Credential) error {
	var user struct {
		Email string `json:"email"`
	}
	return doJSON(ctx, n.client, "netlify", http.MethodGet, netlifyAPI+"/user", cred.Token, nil, &user)
}

type netlifySite struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"ssl_url"`
}

func (n *netlify) EnsureResource(ctx context.Context, req *models.DeploymentRequest, cred *credentials.Credential) (models.ResourceHandle, error) {
	name := req.ResourceName
	if name == "" {
		name = n.cfg["site"]
	}
	if name == "" {
		name = req.Project
	}

	var sites []netlifySite
	listURL := netlifyAPI + "/sites?name=" + url.QueryEscape(name)
	if err := doJSON(ctx, n.client, "netlify", http.MethodGet, listURL, cred.Token, nil, &sites); err != nil {
		return models.ResourceHandle{}, err
	}
	for _, s := range sites {
		if s.Name == name {
			return models.ResourceHandle{ID: s.ID, Name: s.Name, URL: s.URL}, nil
		}
	}

	n.log.WithField("site", name).Info("site not found, creating")
	var site netlifySite
	body := map[string]interface{}{"name": name}
	if err := doJSON(ctx, n.client, "netlify", http.MethodPost, netlifyAPI+"/sites", cred.Token, body, &site); err != nil {
		return models.ResourceHandle{}, err
	}
	return models.ResourceHandle{ID: site.ID, Name: site.Name, URL: site.URL, Created: true}, nil
}

func (n *netlify) Deploy(ctx context.Context, handle models.ResourceHandle, req *models.DeploymentRequest, cred *credentials.Credential) (models.DeployResult, error) {
	archive, err := zipDir(req.ArtifactDir)
	if err != nil {
		return models.DeployResult{}, errdefs.Permanent("netlify", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := n.uploadZip(ctx, handle.ID, archive, cred.Token, &created); err != nil {
		return models.DeployResult{}, err
	}

	for {
		var dep struct {
			State string `json:"state"`
			URL   string `json:"ssl_url"`
		}
		depURL := fmt.Sprintf("%s/sites/%s/deploys/%s", netlifyAPI, handle.ID, created.ID)
		if err := doJSON(ctx, n.client, "netlify", http.MethodGet, depURL, cred.Token, nil, &dep); err != nil {
			return models.DeployResult{}, err
		}
		switch dep.State {
		case "ready":
			return models.DeployResult{
				DeploymentID: created.ID,
				URL:          dep.URL,
				Message:      "deploy is live",
			}, nil
		case "error":
			return models.DeployResult{}, errdefs.Permanentf("netlify", "deploy %s failed during processing", created.ID)
		}

		select {
		case <-ctx.Done():
			return models.DeployResult{}, classifyNetErr("netlify", ctx.Err())
		case <-time.After(3 * time.Second):
		}
	}
}

func (n *netlify) Rollback(ctx context.Context, handle models.ResourceHandle, deploymentID string, cred *credentials.Credential) (bool, error) {
	url := fmt.Sprintf("%s/sites/%s/deploys/%s/restore", netlifyAPI, handle.ID, deploymentID)
	err := doJSON(ctx, n.client, "netlify", http.MethodPost, url, cred.Token, nil, nil)
	if err == nil {
		return true, nil
	}
	if notFound(err) {
		return false, nil
	}
	return false, err
}

func (n *netlify) FetchLogs(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential, follow bool) (LogStream, error) {
	return nil, errdefs.Permanentf("netlify", "log streaming is not supported")
}

func (n *netlify) HealthCheck(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) error {
	var site struct {
		PublishedDeploy struct {
			State string `json:"state"`
		} `json:"published_deploy"`
	}
	if err := doJSON(ctx, n.client, "netlify", http.MethodGet, netlifyAPI+"/sites/"+handle.ID, cred.Token, nil, &site); err != nil {
		return err
	}
	if site.PublishedDeploy.State != "ready" {
		return errdefs.Permanentf("netlify", "published deploy state is %q", site.PublishedDeploy.State)
	}
	return nil
}

// uploadZip is the one call doJSON cannot express: the request body is
// a raw zip, not JSON.
func (n *netlify) uploadZip(ctx context.Context, siteID string, archive []byte, token string, out interface{}) error {
	url := fmt.Sprintf("%s/sites/%s/deploys", netlifyAPI, siteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(archive))
	if err != nil {
		return errdefs.Permanent("netlify", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/zip")

	resp, err := n.client.Do(req)
	if err != nil {
		return classifyNetErr("netlify", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("netlify", resp); err != nil {
		return err
	}
	return decodeBody(resp.Body, "netlify", out)
}

// zipDir packs a directory into an in-memory zip with forward-slash
// relative paths.
func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		entry, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("artifact dir %s is empty", dir)
	}
	return buf.Bytes(), nil
}
