package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/logger"
	"deployx/internal/models"
)

const railwayAPI = "https://backboard.railway.app/graphql/v2"

// railway talks GraphQL with a token, or shells out to the railway CLI
// when the credential is a session reference. Token-based deploys
// redeploy an existing service instance; only the CLI path can push
// local source.
type railway struct {
	cfg    map[string]string
	client *http.Client
	log    *logrus.Entry
}

func newRailway(cfg map[string]string, client *http.Client) *railway {
	return &railway{cfg: cfg, client: client, log: logger.WithModule("railway")}
}

func (r *railway) Name() string { return "railway" }

func (r *railway) Capabilities() Capability {
	return Capability{CreateResource: true, StreamLogs: true}
}

func (r *railway) ValidateCredential(ctx context.Context, cred *credentials.Credential) error {
	if cred.Kind == credentials.KindSessionReference {
		out, err := runCommand(ctx, "", nil, "railway", "whoami")
		if err != nil {
			return errdefs.AuthenticationInvalid("railway", fmt.Errorf("railway whoami: %s", firstLine(out)))
		}
		return nil
	}
	var out struct {
		Me struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"me"`
	}
	return r.gql(ctx, cred.Token, `query { me { id email } }`, nil, &out)
}

func (r *railway) EnsureResource(ctx context.Context, req *models.DeploymentRequest, cred *credentials.Credential) (models.ResourceHandle, error) {
	if cred.Kind == credentials.KindSessionReference {
		// The CLI links the project through its own state; status tells
		// us whether the directory is linked yet.
		out, err := runCommand(ctx, req.ProjectDir, nil, "railway", "status", "--json")
		if err == nil {
			var status struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			if json.Unmarshal([]byte(out), &status) == nil && status.ID != "" {
				return models.ResourceHandle{ID: status.ID, Name: status.Name}, nil
			}
		}
		r.log.WithField("project", req.Project).Info("directory not linked, initializing project")
		if out, err := runCommandEnv(ctx, req.ProjectDir, []string{"CI=true"}, "railway", "init", "--name", req.Project); err != nil {
			return models.ResourceHandle{}, errdefs.Permanentf("railway", "railway init: %s", firstLine(out))
		}
		return models.ResourceHandle{ID: req.Project, Name: req.Project, Created: true}, nil
	}

	if id := r.cfg["project_id"]; id != "" {
		var out struct {
			Project struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"project"`
		}
		q := `query ($id: String!) { project(id: $id) { id name } }`
		if err := r.gql(ctx, cred.Token, q, map[string]interface{}{"id": id}, &out); err != nil {
			return models.ResourceHandle{}, err
		}
		return models.ResourceHandle{ID: out.Project.ID, Name: out.Project.Name}, nil
	}

	var out struct {
		ProjectCreate struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"projectCreate"`
	}
	m := `mutation ($input: ProjectCreateInput!) { projectCreate(input: $input) { id name } }`
	vars := map[string]interface{}{"input": map[string]interface{}{"name": req.Project}}
	if err := r.gql(ctx, cred.Token, m, vars, &out); err != nil {
		return models.ResourceHandle{}, err
	}
	return models.ResourceHandle{ID: out.ProjectCreate.ID, Name: out.ProjectCreate.Name, Created: true}, nil
}

func (r *railway) Deploy(ctx context.Context, handle models.ResourceHandle, req *models.DeploymentRequest, cred *credentials.Credential) (models.DeployResult, error) {
	if cred.Kind == credentials.KindSessionReference {
		// CI=true keeps the CLI from prompting when run outside a TTY.
		if out, err := runCommandEnv(ctx, req.ProjectDir, []string{"CI=true"}, "railway", "up", "--detach"); err != nil {
			return models.DeployResult{}, errdefs.Permanentf("railway", "railway up: %s", firstLine(out))
		}
		domain, _ := runCommand(ctx, req.ProjectDir, nil, "railway", "domain")
		url := strings.TrimSpace(firstLine(domain))
		return models.DeployResult{
			DeploymentID: fmt.Sprintf("up-%d", time.Now().Unix()),
			URL:          url,
			Message:      "uploaded via railway CLI",
		}, nil
	}

	serviceID := r.cfg["service_id"]
	envID := r.cfg["environment_id"]
	if serviceID == "" || envID == "" {
		return models.DeployResult{}, errdefs.Configuration(
			"railway token deploys need service_id and environment_id in deployx.yml", nil)
	}

	var out struct {
		ServiceInstanceRedeploy bool `json:"serviceInstanceRedeploy"`
	}
	m := `mutation ($serviceId: String!, $environmentId: String!) {
		serviceInstanceRedeploy(serviceId: $serviceId, environmentId: $environmentId)
	}`
	vars := map[string]interface{}{"serviceId": serviceID, "environmentId": envID}
	if err := r.gql(ctx, cred.Token, m, vars, &out); err != nil {
		return models.DeployResult{}, err
	}
	return models.DeployResult{
		DeploymentID: fmt.Sprintf("redeploy-%s-%d", serviceID, time.Now().Unix()),
		Message:      "service redeploy triggered",
	}, nil
}

func (r *railway) Rollback(ctx context.Context, handle models.ResourceHandle, deploymentID string, cred *credentials.Credential) (bool, error) {
	return false, errdefs.Permanentf("railway", "rollback is not supported")
}

func (r *railway) FetchLogs(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential, follow bool) (LogStream, error) {
	if cred.Kind == credentials.KindSessionReference {
		out, err := runCommand(ctx, "", nil, "railway", "logs")
		if err != nil {
			return nil, errdefs.Permanentf("railway", "railway logs: %s", firstLine(out))
		}
		return newSliceStream(splitLines(out)), nil
	}

	deployID, err := r.latestDeploymentID(ctx, handle, cred)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, offset int) ([]string, error) {
		var out struct {
			DeploymentLogs []struct {
				Message string `json:"message"`
			} `json:"deploymentLogs"`
		}
		q := `query ($deploymentId: String!) {
			deploymentLogs(deploymentId: $deploymentId) { message }
		}`
		if err := r.gql(ctx, cred.Token, q, map[string]interface{}{"deploymentId": deployID}, &out); err != nil {
			return nil, err
		}
		var lines []string
		for _, l := range out.DeploymentLogs {
			lines = append(lines, l.Message)
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

func (r *railway) HealthCheck(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) error {
	return errdefs.Permanentf("railway", "health check is not supported")
}

func (r *railway) latestDeploymentID(ctx context.Context, handle models.ResourceHandle, cred *credentials.Credential) (string, error) {
	var out struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					ID string `json:"id"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	q := `query ($projectId: String!) {
		deployments(input: { projectId: $projectId }, first: 1) {
			edges { node { id } }
		}
	}`
	if err := r.gql(ctx, cred.Token, q, map[string]interface{}{"projectId": handle.ID}, &out); err != nil {
		return "", err
	}
	if len(out.Deployments.Edges) == 0 {
		return "", errdefs.Permanentf("railway", "project %s has no deployments", handle.Name)
	}
	return out.Deployments.Edges[0].Node.ID, nil
}

// gql posts one GraphQL request. Response-level errors come back as
// permanent platform errors; transport and status handling follow the
// shared classification.
func (r *railway) gql(ctx context.Context, token, query string, vars map[string]interface{}, out interface{}) error {
	body := map[string]interface{}{"query": query}
	if vars != nil {
		body["variables"] = vars
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := doJSON(ctx, r.client, "railway", http.MethodPost, railwayAPI, token, body, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		msg := envelope.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "not authorized") {
			return errdefs.AuthenticationInvalid("railway", fmt.Errorf("%s", msg))
		}
		return errdefs.Permanentf("railway", "graphql: %s", msg)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errdefs.Permanent("railway", fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func splitLines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
