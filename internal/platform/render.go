package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/logger"
	"deployx/internal/models"
)

const renderAPI = "https://api.render.com/v1"

// render cannot create services through the API used here; the service
// must exist already (created in the dashboard or from a blueprint).
// Deploying to an absent service is a resource-missing error, not a
// provisioning step.
type render struct {
	cfg    map[string]string
	client *http.Client
	log    *logrus.Entry
}

func newRender(cfg map[string]string, client *http.Client) *render {
	return &render{cfg: cfg, client: client, log: logger.WithModule("render")}
}

func (r *render) Name() string { return "render" }

func (r *render) Capabilities() Capability {
	return Capability{Rollback: true, StreamLogs: true, HealthCheck: true}
}

func (r *render) ValidateCredential(ctx context.Context, cred *credentials.Credential) error {
	var owners []struct {
		Owner struct {
			ID string `json:"id"`
		} `json:"owner"`
	}
	return doJSON(ctx, r.client, "render", http.MethodGet, renderAPI+"/owners?limit=1", cred.Token, nil, &owners)
}

type renderService struct {
	Service struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"service"`
}

func (r *render) EnsureResource(ctx context.Context, req *models.DeploymentRequest, cred *credentials.Credential) (models.ResourceHandle, error) {
	if id := r.cfg["service_id"]; id != "" {
		var svc struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		err := doJSON(ctx, r.client, "render", http.MethodGet, renderAPI+"/services/"+id, cred.Token, nil, &svc)
		if err != nil {
			if notFound(err) {
				return models.ResourceHandle{}, errdefs.ResourceMissing("render",
					fmt.Sprintf("configured service_id %s does not exist", id))
			}
			return models.ResourceHandle{}, err
		}
		return models.ResourceHandle{ID: svc.ID, Name: svc.Name}, nil
	}

	name := req.ResourceName
	if name == "" {
		name = req.Project
	}
	var services []renderService
	listURL := renderAPI + "/services?name=" + url.QueryEscape(name) + "&limit=1"
	if err := doJSON(ctx, r.client, "render", http.MethodGet, listURL, cred.Token, nil, &services); err != nil {
		return models.ResourceHandle{}, err
	}
	if len(services) == 0 {
		return models.ResourceHandle{}, errdefs.ResourceMissing("render",
			fmt.Sprintf("no service named %q; create it in the dashboard first", name))
	}
	s := services[0].Service
	return models.ResourceHandle{ID: s.ID, Name: s.Name}, nil
}

func (r *render) Deploy(ctx context.Context, handle models.ResourceHandle, req *models.DeploymentRequest, cred *credentials.Credential) (models.DeployResult, error) {
	var created struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("%s/services/%s/deploys", renderAPI, handle.ID)
	body := map[string]interface{}{"clearCache": "do_not_clear"}
	if err := doJSON(ctx, r.client, "render", http.MethodPost, url, cred.Token, body, &created); err != nil {
		return models.DeployResult{}, err
	}

	for {
		var dep struct {
			Status string `json:"status"`
		}
		depURL := fmt.Sprintf("%s/services/%s/deploys/%s", renderAPI, handle.ID, created.ID)
		if err := doJSON(ctx, r.client, "render", http.MethodGet, depURL, cred.Token, nil, &dep); err != nil {
			return models.DeployResult{}, err
		}
		switch dep.Status {
		case "live":
			return models.DeployResult{
				DeploymentID: created.ID,
				URL:          handle.URL,
				Message:      "deploy is live",
			}, nil
		case "build_failed", "update_failed", "canceled", "deactivated":
			return models.DeployResult{}, errdefs.Permanentf("render", "deploy %s ended in status %s", created.ID, dep.Status)
		}

		select {
		case <-ctx.Done():
			return models.DeployResult{}, classifyNetErr("render", ctx.Err())
		case <-time.After(5 * time.Second):
		}
	}
}

func (r *render) Rollback(ctx context.Context, handle models.ResourceHandle, deploymentID string, cred *credentials.Credential) (bool, error) {
	url := fmt.Sprintf("%s/services/%s/rollback", renderAPI, handle.ID)
	body := map[string]interface{}{"deployId": deploymentID}
	err := doJSON(ctx, r.client, "render", http.MethodPost, url, cred.Token, body, nil)
	if err == nil {
		return true, nil
	}
	if notFound(err) {
		return false, nil
	}
	return false, err
}

func (r *render) FetchLogs(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential, follow bool) (LogStream, error) {
	fetch := func(ctx context.Context, offset int) ([]string, error) {
		var out struct {
			Logs []struct {
				Message string `json:"message"`
			} `json:"logs"`
		}
		url := fmt.Sprintf("%s/logs?resource=%s&limit=100", renderAPI, handle.ID)
		if err := doJSON(ctx, r.client, "render", http.MethodGet, url, cred.Token, nil, &out); err != nil {
			return nil, err
		}
		var lines []string
		for _, l := range out.Logs {
			lines = append(lines, l.Message)
		}
		if offset >= len(lines) {
			return nil, nil
		}
		return lines[offset:], nil
	}

	if follow {
		return newFollowStream(ctx, 5*time.Second, fetch), nil
	}
	lines, err := fetch(ctx, 0)
	if err != nil {
		return nil, err
	}
	return newSliceStream(lines), nil
}

func (r *render) HealthCheck(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) error {
	var deploys []struct {
		Deploy struct {
			Status string `json:"status"`
		} `json:"deploy"`
	}
	url := fmt.Sprintf("%s/services/%s/deploys?limit=1", renderAPI, handle.ID)
	if err := doJSON(ctx, r.client, "render", http.MethodGet, url, cred.Token, nil, &deploys); err != nil {
		return err
	}
	if len(deploys) == 0 {
		return errdefs.Permanentf("render", "service %s has no deploys", handle.Name)
	}
	if status := deploys[0].Deploy.Status; status != "live" {
		return errdefs.Permanentf("render", "latest deploy status is %s", status)
	}
	return nil
}
