package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"deployx/internal/config"
	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/history"
	"deployx/internal/logger"
	"deployx/internal/models"
	"deployx/internal/platform"
	"deployx/internal/telemetry"
)

// CredentialResolver yields a usable credential for a platform.
type CredentialResolver interface {
	Resolve(ctx context.Context, platformName string) (*credentials.Credential, error)
}

// AdapterFactory builds the adapter for a platform name. Tests swap it
// for a fake.
type AdapterFactory func(name string, cfg map[string]string, timeout time.Duration) (platform.Adapter, error)

// Orchestrator drives a deployment attempt through its states and
// records every transition in history. All remote work goes through
// the adapter; all persistence goes through the history store.
type Orchestrator struct {
	history    *history.Store
	resolver   CredentialResolver
	settings   *config.Settings
	telemetry  *telemetry.Telemetry
	newAdapter AdapterFactory
	log        *logrus.Entry
}

func New(hist *history.Store, resolver CredentialResolver, settings *config.Settings, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		history:    hist,
		resolver:   resolver,
		settings:   settings,
		telemetry:  tel,
		newAdapter: platform.New,
		log:        logger.WithModule("orchestrator"),
	}
}

// Deploy runs one deployment end to end and returns the final record.
// Exactly one history record is produced per call, whatever the
// outcome; a crash mid-flight is the only way to leave a non-terminal
// record behind, and BeginAttempt's in-flight check surfaces that.
func (o *Orchestrator) Deploy(ctx context.Context, req *models.DeploymentRequest, platformCfg map[string]string) (*models.DeploymentRecord, error) {
	adapter, err := o.newAdapter(req.Platform, platformCfg, o.settings.NetworkTimeout)
	if err != nil {
		return nil, err
	}

	rec, err := o.history.BeginAttempt(ctx, req.Project, req.Platform)
	if err != nil {
		return nil, err
	}
	dlog := o.log.WithFields(logrus.Fields{
		"project":  req.Project,
		"platform": req.Platform,
		"sequence": rec.Sequence,
	})

	tx := o.telemetry.StartDeployment(req.Project, req.Platform)

	finalErr := o.run(ctx, adapter, req, rec, tx, dlog)
	tx.End(finalErr)

	if finalErr != nil {
		rec.Status = models.StatusFailed
		rec.ErrorDetail = finalErr.Error()
		if err := o.history.Complete(ctx, req.Project, rec.Sequence,
			models.StatusFailed, rec.DeploymentID, rec.URL, rec.ErrorDetail); err != nil {
			dlog.WithError(err).Error("failed to record deployment failure")
		}
		dlog.WithError(finalErr).Error("deployment failed")
		return rec, finalErr
	}

	if err := o.history.Complete(ctx, req.Project, rec.Sequence,
		models.StatusSucceeded, rec.DeploymentID, rec.URL, rec.ErrorDetail); err != nil {
		return rec, err
	}
	rec.Status = models.StatusSucceeded
	dlog.WithField("url", rec.URL).Info("deployment succeeded")
	return rec, nil
}

// run advances through authenticating, provisioning, deploying and
// verifying, mutating rec as results arrive. The caller owns the
// terminal transition.
func (o *Orchestrator) run(ctx context.Context, adapter platform.Adapter, req *models.DeploymentRequest, rec *models.DeploymentRecord, tx *telemetry.Transaction, dlog *logrus.Entry) error {
	tx.Stage("authenticating")
	dlog.Info("resolving credentials")
	cred, err := o.resolver.Resolve(ctx, req.Platform)
	if err != nil {
		return err
	}

	if err := o.history.MarkRunning(ctx, req.Project, rec.Sequence); err != nil {
		return err
	}
	rec.Status = models.StatusRunning

	tx.Stage("provisioning")
	dlog.Info("ensuring remote resource")
	handle, err := adapter.EnsureResource(ctx, req, cred)
	if err != nil {
		return err
	}
	if handle.Created {
		dlog.WithField("resource", handle.Name).Info("remote resource created")
	}
	if err := o.history.SetResource(ctx, req.Project, rec.Sequence, handle.ID, handle.URL); err != nil {
		return err
	}
	rec.ResourceID = handle.ID
	rec.ResourceURL = handle.URL

	tx.Stage("deploying")
	result, err := o.deployWithRetry(ctx, adapter, handle, req, cred, dlog)
	if err != nil {
		return err
	}
	rec.DeploymentID = result.DeploymentID
	rec.URL = result.URL

	tx.Stage("verifying")
	if warn := o.verify(ctx, adapter, handle, result, cred); warn != nil {
		// A deploy the platform accepted is done; verification trouble
		// is advisory.
		dlog.WithError(warn).Warn("deployment verification failed")
		rec.ErrorDetail = fmt.Sprintf("verification warning: %v", warn)
	}
	return nil
}

// deployWithRetry retries the upload on transient failures with
// exponential backoff. Anything non-transient stops the loop at once.
func (o *Orchestrator) deployWithRetry(ctx context.Context, adapter platform.Adapter, handle models.ResourceHandle, req *models.DeploymentRequest, cred *credentials.Credential, dlog *logrus.Entry) (models.DeployResult, error) {
	var result models.DeployResult
	attempt := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.settings.RetryBackoffBase
	limited := backoff.WithMaxRetries(policy, uint64(o.settings.MaxDeployAttempts-1))

	operation := func() error {
		attempt++
		if attempt > 1 {
			dlog.WithField("attempt", attempt).Info("retrying deployment")
		}
		res, err := adapter.Deploy(ctx, handle, req, cred)
		if err != nil {
			if !errdefs.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(limited, ctx)); err != nil {
		return models.DeployResult{}, err
	}
	return result, nil
}

// verify confirms the deployment is actually reachable: the adapter's
// health check when it has one, otherwise a plain GET on the deploy
// URL. A nil return means verified or unverifiable.
func (o *Orchestrator) verify(ctx context.Context, adapter platform.Adapter, handle models.ResourceHandle, result models.DeployResult, cred *credentials.Credential) error {
	if adapter.Capabilities().HealthCheck {
		return adapter.HealthCheck(ctx, handle, cred)
	}
	if result.URL == "" {
		return nil
	}

	client := &http.Client{Timeout: o.settings.NetworkTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s returned %d", result.URL, resp.StatusCode)
	}
	return nil
}

// Status returns the most recent record for the project.
func (o *Orchestrator) Status(ctx context.Context, project string) (*models.DeploymentRecord, error) {
	return o.history.Latest(ctx, project)
}

// History lists up to limit records, most recent first.
func (o *Orchestrator) History(ctx context.Context, project string, limit int) ([]*models.DeploymentRecord, error) {
	return o.history.List(ctx, project, limit)
}

// Logs opens the log stream for the project's most recent deployed
// resource. The capability gate runs before any credential work.
func (o *Orchestrator) Logs(ctx context.Context, project, platformName string, platformCfg map[string]string, follow bool) (platform.LogStream, error) {
	adapter, err := o.newAdapter(platformName, platformCfg, o.settings.NetworkTimeout)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().StreamLogs {
		return nil, errdefs.Permanentf(platformName, "platform does not expose deployment logs")
	}

	rec, err := o.history.Latest(ctx, project)
	if err != nil {
		return nil, err
	}
	if rec.ResourceID == "" {
		return nil, errdefs.Permanentf(platformName, "no deployed resource on record for %s", project)
	}

	cred, err := o.resolver.Resolve(ctx, platformName)
	if err != nil {
		return nil, err
	}
	handle := models.ResourceHandle{ID: rec.ResourceID, URL: rec.ResourceURL}
	return adapter.FetchLogs(ctx, handle, cred, follow)
}

// PlanStep is one line of a dry-run plan.
type PlanStep struct {
	Stage  string
	Detail string
}

// Plan describes what Deploy would do without touching the platform
// or the history store.
func (o *Orchestrator) Plan(ctx context.Context, req *models.DeploymentRequest, platformCfg map[string]string) ([]PlanStep, error) {
	adapter, err := o.newAdapter(req.Platform, platformCfg, o.settings.NetworkTimeout)
	if err != nil {
		return nil, err
	}
	caps := adapter.Capabilities()

	steps := []PlanStep{
		{Stage: "authenticate", Detail: fmt.Sprintf("resolve credentials for %s", req.Platform)},
	}
	if caps.CreateResource {
		steps = append(steps, PlanStep{Stage: "provision",
			Detail: "ensure remote resource exists, creating it if needed"})
	} else {
		steps = append(steps, PlanStep{Stage: "provision",
			Detail: "look up existing remote resource (this platform cannot create one)"})
	}
	steps = append(steps, PlanStep{Stage: "deploy",
		Detail: fmt.Sprintf("upload %s (up to %d attempts)", req.ArtifactDir, o.settings.MaxDeployAttempts)})
	if caps.HealthCheck {
		steps = append(steps, PlanStep{Stage: "verify", Detail: "platform health check"})
	} else {
		steps = append(steps, PlanStep{Stage: "verify", Detail: "fetch the deployed URL"})
	}
	return steps, nil
}
