package domain

import "time"

// Deployment statuses. Queued and InProgress are the "active" states; at most
// one deployment per project may be active at any instant. Ready and Failed
// are terminal.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Deployment captures a single build-and-publish attempt for a project.
// Rows are never deleted; terminal deployments are retained for audit and
// log lookup.
type Deployment struct {
	ID          string
	ProjectID   string
	Status      string
	Subdomain   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Active reports whether the deployment still occupies its project's
// single active slot.
func (d Deployment) Active() bool {
	return d.Status == StatusQueued || d.Status == StatusInProgress
}

// Terminal reports whether the deployment reached a final status.
func (d Deployment) Terminal() bool {
	return d.Status == StatusReady || d.Status == StatusFailed
}
