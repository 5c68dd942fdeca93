package models

import "time"

// Status of a recorded deployment attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// ProjectProfile is the detector's verdict about a local project.
type ProjectProfile struct {
	Type           string `json:"type"`
	Framework      string `json:"framework,omitempty"`
	PackageManager string `json:"package_manager,omitempty"`
	BuildCommand   string `json:"build_command,omitempty"`
	OutputDir      string `json:"output_dir"`
}

// DeploymentRequest describes one deployment to run. Immutable once
// handed to the orchestrator.
type DeploymentRequest struct {
	Project      string            `json:"project"`
	Platform     string            `json:"platform"`
	ProjectDir   string            `json:"project_dir"`
	ArtifactDir  string            `json:"artifact_dir"`
	Env          map[string]string `json:"env,omitempty"`
	ResourceName string            `json:"resource_name,omitempty"`
	Branch       string            `json:"branch,omitempty"`
	Profile      ProjectProfile    `json:"profile"`
}

// ResourceHandle is an opaque reference to the remote artifact a
// deployment targets (repository, site, service).
type ResourceHandle struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Created bool   `json:"created"`
}

// DeployResult is what an adapter returns after a successful upload.
type DeployResult struct {
	DeploymentID string `json:"deployment_id"`
	URL          string `json:"url"`
	Message      string `json:"message,omitempty"`
}

// DeploymentRecord is one row of a project's deployment history.
// Sequence numbers are monotonic per project and give the total order
// used by history listing and rollback targeting.
type DeploymentRecord struct {
	Sequence     int64     `json:"sequence"`
	Project      string    `json:"project"`
	Platform     string    `json:"platform"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceURL  string    `json:"resource_url,omitempty"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	URL          string    `json:"url,omitempty"`
	// RollbackOf references the sequence this record rolled back, for
	// status rolled-back records only.
	RollbackOf  int64  `json:"rollback_of,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}
