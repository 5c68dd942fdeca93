package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"deployx/internal/errdefs"
	"deployx/internal/history"
	"deployx/internal/models"
)

// Rollback re-activates an earlier successful deployment. target is a
// history sequence number; zero means the most recent succeeded
// record. On success a new rolled-back record referencing the target
// is appended; the target record itself is never modified.
func (o *Orchestrator) Rollback(ctx context.Context, project, platformName string, platformCfg map[string]string, target int64) (*models.DeploymentRecord, error) {
	adapter, err := o.newAdapter(platformName, platformCfg, o.settings.NetworkTimeout)
	if err != nil {
		return nil, err
	}
	// Gate on capability before looking anything up; a platform without
	// rollback fails identically whether or not history has a target.
	if !adapter.Capabilities().Rollback {
		return nil, errdefs.Permanentf(platformName, "platform does not support rollback")
	}

	var targetRec *models.DeploymentRecord
	if target > 0 {
		targetRec, err = o.history.Get(ctx, project, target)
	} else {
		targetRec, err = o.history.LatestSucceeded(ctx, project)
	}
	if err != nil {
		if err == history.ErrNotFound {
			return nil, errdefs.Configuration(
				fmt.Sprintf("no deployment in history to roll back to for %s", project), err)
		}
		return nil, err
	}
	if targetRec.Status != models.StatusSucceeded {
		return nil, errdefs.Configuration(
			fmt.Sprintf("deployment %d has status %s; only succeeded deployments can be rollback targets",
				targetRec.Sequence, targetRec.Status), nil)
	}
	if targetRec.DeploymentID == "" {
		return nil, errdefs.Configuration(
			fmt.Sprintf("deployment %d has no platform deployment id on record", targetRec.Sequence), nil)
	}

	rlog := o.log.WithFields(logrus.Fields{
		"project":  project,
		"platform": platformName,
		"target":   targetRec.Sequence,
	})
	rlog.Info("rolling back")

	cred, err := o.resolver.Resolve(ctx, platformName)
	if err != nil {
		return nil, err
	}

	handle := models.ResourceHandle{ID: targetRec.ResourceID, URL: targetRec.ResourceURL}
	started := time.Now().UTC()
	ok, err := adapter.Rollback(ctx, handle, targetRec.DeploymentID, cred)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errdefs.ResourceMissing(platformName,
			fmt.Sprintf("deployment %s no longer exists on the platform", targetRec.DeploymentID))
	}

	rec := &models.DeploymentRecord{
		Project:      project,
		Platform:     platformName,
		Status:       models.StatusRolledBack,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
		ResourceID:   targetRec.ResourceID,
		ResourceURL:  targetRec.ResourceURL,
		DeploymentID: targetRec.DeploymentID,
		URL:          targetRec.URL,
		RollbackOf:   targetRec.Sequence,
	}
	if err := o.history.Append(ctx, rec); err != nil {
		return nil, err
	}
	rlog.WithField("sequence", rec.Sequence).Info("rollback recorded")
	return rec, nil
}
