package domain

import "time"

// Project describes a deployable source repository.
type Project struct {
	ID        string
	Name      string
	RepoURL   string
	CreatedAt time.Time
}
