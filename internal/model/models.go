// internal/model/models.go
package model

import (
	"path/filepath"
	"time"
)

// Category places a repository in the backup directory layout. It is
// assigned once at discovery time and never changes within a run.
type Category string

const (
	CategoryPrivate      Category = "private"
	CategoryPublic       Category = "public"
	CategoryStarred      Category = "starred"
	CategoryWatched      Category = "watched"
	CategoryOrganization Category = "organizations"
	CategoryFork         Category = "forks"
	CategoryGist         Category = "gists"
)

// Repository describes a single remote repository as seen at discovery time.
// Identity is (Owner, Name).
type Repository struct {
	Owner         string
	Name          string
	FullName      string
	Private       bool
	Fork          bool
	Archived      bool
	DefaultBranch string
	SSHURL        string
	HTTPSURL      string
	SizeKB        int64
	PushedAt      time.Time
	HasWiki       bool
	OwnerType     string // "User" or "Organization"
	Category      Category
}

// Key returns the repository identity used by the state store.
func (r Repository) Key() string {
	return r.Owner + "/" + r.Name
}

// Categorize picks the backup category for a repository. An explicit
// category (starred, watched) wins; otherwise organization ownership,
// then fork status, then visibility decide.
func Categorize(r Repository, explicit Category) Category {
	if explicit != "" {
		return explicit
	}
	if r.OwnerType == "Organization" {
		return CategoryOrganization
	}
	if r.Fork {
		return CategoryFork
	}
	if r.Private {
		return CategoryPrivate
	}
	return CategoryPublic
}

// DestPath resolves the local destination for a repository. It is a pure
// function of category, owner and name, so no two distinct repositories
// can share a destination.
func DestPath(root string, r Repository) string {
	return filepath.Join(root, "repos", string(r.Category), r.Owner, r.Name)
}

// Operation is one unit of requested work inside a Job.
type Operation string

const (
	OpSyncCode        Operation = "sync-code"
	OpExportIssues    Operation = "export-issues"
	OpExportPulls     Operation = "export-pulls"
	OpExportWorkflows Operation = "export-workflows"
	OpExportReleases  Operation = "export-releases"
	OpExportWiki      Operation = "export-wiki"
)

// Job is the unit of concurrent work: one repository plus the set of
// operations requested for it and its resolved destination path.
type Job struct {
	Repo       Repository
	Operations []Operation
	Dest       string
}

// Status is the terminal outcome of a Job.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Action records what the git engine did (or, in dry-run mode, would do).
type Action string

const (
	ActionNone        Action = ""
	ActionCloned      Action = "cloned"
	ActionUpdated     Action = "updated"
	ActionSkipped     Action = "skipped"
	ActionWouldClone  Action = "would-clone"
	ActionWouldUpdate Action = "would-update"
)

// JobResult is the outcome of a single Job.
type JobResult struct {
	Repo     Repository
	Status   Status
	Action   Action
	Err      error
	Duration time.Duration

	// Exported counts objects written per export operation.
	Exported map[Operation]int
}

// SyncState is the per-repository incremental marker, written only after
// a code-sync operation has been confirmed successful.
type SyncState struct {
	CommitRef string    `json:"commit_ref"`
	PushedAt  time.Time `json:"pushed_at"`
	SyncedAt  time.Time `json:"synced_at"`
}
