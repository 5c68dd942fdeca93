package platform

import (
	"context"
	"encoding/base64"
	"fmt"
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

const (
	vercelAPI = "https://api.vercel.com"

	// Inline file uploads are capped; anything bigger belongs in a
	// real build pipeline, not a static upload.
	vercelMaxUploadBytes = 8 << 20
)

type vercel struct {
	cfg    map[string]string
	client *http.Client
	log    *logrus.Entry
}

func newVercel(cfg map[string]string, client *http.Client) *vercel {
	return &vercel{cfg: cfg, client: client, log: logger.WithModule("vercel")}
}

func (v *vercel) Name() string { return "vercel" }

func (v *vercel) Capabilities() Capability {
	return Capability{CreateResource: true, Rollback: true, StreamLogs: true, HealthCheck: true}
}

func (v *vercel) ValidateCredential(ctx context.Context, cred *credentials.Credential) error {
	var out struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	return doJSON(ctx, v.client, "vercel", http.MethodGet, vercelAPI+"/v2/user", cred.Token, nil, &out)
}

func (v *vercel) EnsureResource(ctx context.Context, req *models.DeploymentRequest, cred *credentials.Credential) (models.ResourceHandle, error) {
	name := req.ResourceName
	if name == "" {
		name = v.cfg["project"]
	}
	if name == "" {
		name = req.Project
	}

	var project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	err := doJSON(ctx, v.client, "vercel", http.MethodGet,
		vercelAPI+"/v9/projects/"+url.PathEscape(name), cred.Token, nil, &project)
	if err == nil {
		return models.ResourceHandle{ID: project.ID, Name: project.Name}, nil
	}
	if !notFound(err) {
		return models.ResourceHandle{}, err
	}

	v.log.WithField("project", name).Info("project not found, creating")
	body := map[string]interface{}{"name": name}
	if err := doJSON(ctx, v.client, "vercel", http.MethodPost,
		vercelAPI+"/v9/projects", cred.Token, body, &project); err != nil {
		return models.ResourceHandle{}, err
	}
	return models.ResourceHandle{ID: project.ID, Name: project.Name, Created: true}, nil
}

func (v *vercel) Deploy(ctx context.Context, handle models.ResourceHandle, req *models.DeploymentRequest, cred *credentials.Credential) (models.DeployResult, error) {
	files, err := collectInlineFiles(req.ArtifactDir, vercelMaxUploadBytes)
	if err != nil {
		return models.DeployResult{}, errdefs.Permanent("vercel", err)
	}

	body := map[string]interface{}{
		"name":   handle.Name,
		"files":  files,
		"target": "production",
		"projectSettings": map[string]interface{}{
			"framework": nil,
		},
	}
	var created struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := doJSON(ctx, v.client, "vercel", http.MethodPost,
		vercelAPI+"/v13/deployments", cred.Token, body, &created); err != nil {
		return models.DeployResult{}, err
	}

	// Upload accepted; wait for the build to settle.
	for {
		var dep struct {
			ReadyState string `json:"readyState"`
			URL        string `json:"url"`
		}
		if err := doJSON(ctx, v.client, "vercel", http.MethodGet,
			vercelAPI+"/v13/deployments/"+created.ID, cred.Token, nil, &dep); err != nil {
			return models.DeployResult{}, err
		}
		switch dep.ReadyState {
		case "READY":
			return models.DeployResult{
				DeploymentID: created.ID,
				URL:          "https://" + dep.URL,
				Message:      "deployment ready",
			}, nil
		case "ERROR", "CANCELED":
			return models.DeployResult{}, errdefs.Permanentf("vercel", "deployment %s ended in state %s", created.ID, dep.ReadyState)
		}

		select {
		case <-ctx.Done():
			return models.DeployResult{}, classifyNetErr("vercel", ctx.Err())
		case <-time.After(3 * time.Second):
		}
	}
}

func (v *vercel) Rollback(ctx context.Context, handle models.ResourceHandle, deploymentID string, cred *credentials.Credential) (bool, error) {
	url := fmt.Sprintf("%s/v9/projects/%s/rollback/%s", vercelAPI, handle.ID, deploymentID)
	err := doJSON(ctx, v.client, "vercel", http.MethodPost, url, cred.Token, map[string]interface{}{}, nil)
	if err == nil {
		return true, nil
	}
	if notFound(err) {
		// Target deployment was deleted out-of-band.
		return false, nil
	}
	return false, err
}

func (v *vercel) FetchLogs(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential, follow bool) (LogStream, error) {
	deployID, err := v.latestDeploymentID(ctx, handle, cred)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, offset int) ([]string, error) {
		var events []struct {
			Type    string `json:"type"`
			Payload struct {
				Text string `json:"text"`
			} `json:"payload"`
		}
		url := fmt.Sprintf("%s/v2/deployments/%s/events", vercelAPI, deployID)
		if err := doJSON(ctx, v.client, "vercel", http.MethodGet, url, cred.Token, nil, &events); err != nil {
			return nil, err
		}
		var lines []string
		for _, ev := range events {
			if ev.Payload.Text != "" {
				lines = append(lines, ev.Payload.Text)
			}
		}
		if offset >= len(lines) {
			return nil, nil
		}
		return lines[offset:], nil
	}

	if follow {
		return newFollowStream(ctx, 3*time.Second, fetch), nil
	}
	lines, err := fetch(ctx, 0)
	if err != nil {
		return nil, err
	}
	return newSliceStream(lines), nil
}

func (v *vercel) HealthCheck(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) error {
	var dep struct {
		ReadyState string `json:"readyState"`
	}
	id, err := v.latestDeploymentID(ctx, handle, cred)
	if err != nil {
		return err
	}
	if err := doJSON(ctx, v.client, "vercel", http.MethodGet,
		vercelAPI+"/v13/deployments/"+id, cred.Token, nil, &dep); err != nil {
		return err
	}
	if dep.ReadyState != "READY" {
		return errdefs.Permanentf("vercel", "latest deployment state is %s", dep.ReadyState)
	}
	return nil
}

func (v *vercel) latestDeploymentID(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) (string, error) {
	var out struct {
		Deployments []struct {
			UID string `json:"uid"`
		} `json:"deployments"`
	}
	url := fmt.Sprintf("%s/v6/deployments?projectId=%s&limit=1", vercelAPI, handle.ID)
	if err := doJSON(ctx, v.client, "vercel", http.MethodGet, url, cred.Token, nil, &out); err != nil {
		return "", err
	}
	if len(out.Deployments) == 0 {
		return "", errdefs.Permanentf("vercel", "project %s has no deployments", handle.Name)
	}
	return out.Deployments[0].UID, nil
}

// collectInlineFiles walks the artifact dir into the inline upload
// format, enforcing a total size cap.
func collectInlineFiles(dir string, maxBytes int64) ([]map[string]string, error) {
	var files []map[string]string
	var total int64

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
		total += info.Size()
		if total > maxBytes {
			return fmt.Errorf("artifact exceeds %d MB upload limit", maxBytes>>20)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, map[string]string{
			"file":     filepath.ToSlash(rel),
			"data":     base64.StdEncoding.EncodeToString(data),
			"encoding": "base64",
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("artifact dir %s is empty", dir)
	}
	return files, nil
}
