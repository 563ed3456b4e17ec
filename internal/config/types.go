package config

import "time"

// SourceType identifies the kind of remote version-control system a repo
// is converted from. Only SourceSVN is implemented; the others are
// reserved per spec.
type SourceType string

const (
	SourceSVN  SourceType = "svn"
	SourceTFVC SourceType = "tfvc"
	SourceGit  SourceType = "git"
)

// Layout describes how an SVN tree maps onto Git refs.
type Layout struct {
	// Standard is shorthand for the conventional trunk/branches/tags
	// layout. Mutually exclusive with an explicit Trunk/Branches/Tags.
	Standard bool
	Trunk    string
	Branches []string
	Tags     []string
}

// RepoDescriptor is a fully-resolved description of one repository to
// convert, after merging repo-level, server-level, and global defaults.
type RepoDescriptor struct {
	RepoKey      string
	Type         SourceType
	URL          string
	CodeHostName string
	OrgName      string
	ServerKey    string

	Username string
	Password string

	Layout            Layout
	GitDefaultBranch  string
	BareClone         bool
	DefaultBranchOnly bool
	FetchBatchSize    int

	AuthorsFilePath string
	IgnoreFilePath  string
	AuthorsProgPath string

	MaxRetries int

	FetchInterval time.Duration // zero means "always eligible"

	// AllowInactivityTimeoutFetch enables the I/O-inactivity kill for the
	// main `git svn fetch` invocation. Conservative default: off. See
	// DESIGN.md for the Open Question this resolves.
	AllowInactivityTimeoutFetch bool

	// GCOnBootstrap runs a compacting GC pass after the first successful
	// fetch of a freshly created repository.
	GCOnBootstrap bool
}

