// Package config loads the YAML repository list (§6) into a
// flat set of fully-resolved RepoDescriptor values, merging repo-level,
// server-level, and global defaults. It never watches the file itself;
// the Main Loop calls Load once per cycle and swaps in the result.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/log"
	"gopkg.in/yaml.v3"

	"github.com/sourcegraph/repo-converter/internal/redact"
)

// rawRepo mirrors the YAML shape of a single repo (or a server/global
// defaults block, which shares the same field set). Pointer fields
// distinguish "unset" from "explicitly false/zero" so merging can fall
// through to the next level.
type rawRepo struct {
	Type                   string   `yaml:"type"`
	URL                    string   `yaml:"url"`
	RepoParentURL          string   `yaml:"repo-parent-url"`
	CodeHostName           string   `yaml:"code-host-name"`
	GitOrgName             string   `yaml:"git-org-name"`
	GitRepoName            string   `yaml:"git-repo-name"`
	Username               string   `yaml:"username"`
	Password               string   `yaml:"password"`
	BareClone              *bool    `yaml:"bare-clone"`
	GitDefaultBranch       string   `yaml:"git-default-branch"`
	DefaultBranchOnly      *bool    `yaml:"default-branch-only"`
	FetchBatchSize         *int     `yaml:"fetch-batch-size"`
	FetchIntervalSeconds   *int     `yaml:"fetch-interval-seconds"`
	Layout                 string   `yaml:"layout"`
	Trunk                  string   `yaml:"trunk"`
	Branches               []string `yaml:"branches"`
	Tags                   []string `yaml:"tags"`
	GitIgnoreFilePath      string   `yaml:"git-ignore-file-path"`
	AuthorsFilePath        string   `yaml:"authors-file-path"`
	AuthorsProgPath        string   `yaml:"authors-prog-path"`
	MaxRetries             *int     `yaml:"max-retries"`
	AllowInactivityTimeout *bool    `yaml:"allow-inactivity-timeout"`
	GCOnBootstrap          *bool    `yaml:"gc-on-bootstrap"`
}

var knownKeys = knownKeySet()

func knownKeySet() map[string]struct{} {
	names := []string{
		"type", "url", "repo-parent-url", "code-host-name", "git-org-name",
		"git-repo-name", "username", "password", "bare-clone",
		"git-default-branch", "default-branch-only", "fetch-batch-size",
		"fetch-interval-seconds", "layout", "trunk", "branches", "tags",
		"git-ignore-file-path", "authors-file-path", "authors-prog-path",
		"max-retries", "allow-inactivity-timeout", "gc-on-bootstrap",
		// container-level keys valid alongside the repo fields above
		"global", "repos",
	}
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

type rawServerGroup struct {
	rawRepo `yaml:",inline"`
	Repos   map[string]rawRepo `yaml:"repos"`
}

type rawFile struct {
	Global  rawRepo                   `yaml:"global"`
	Servers map[string]rawServerGroup `yaml:",inline"`
}

// Load reads and parses the YAML file at path, returning a map from
// repo_key to fully-resolved RepoDescriptor, registering every credential
// it reads with sink.
func Load(path string, sink *redact.Sink, logger log.Logger) (map[string]*RepoDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var rawDoc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &rawDoc); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	warnUnknownKeys(rawDoc, logger)

	var file rawFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	out := make(map[string]*RepoDescriptor)
	for serverKey, group := range file.Servers {
		if serverKey == "global" {
			continue
		}
		if group.CodeHostName == "" {
			return nil, errors.Newf("server group %q: code-host-name is required", serverKey)
		}
		for repoName, repo := range group.Repos {
			desc, err := merge(serverKey, repoName, file.Global, group.rawRepo, repo)
			if err != nil {
				return nil, errors.Wrapf(err, "server %q repo %q", serverKey, repoName)
			}
			if _, dup := out[desc.RepoKey]; dup {
				return nil, errors.Newf("duplicate repo_key %q (server %q repo %q)", desc.RepoKey, serverKey, repoName)
			}
			registerSecrets(desc, sink)
			out[desc.RepoKey] = desc
		}
	}
	return out, nil
}

// merge combines global, server-group, and repo-level settings per the
// precedence in §4.4: repo-level > server-level > global-level > built-in
// default.
func merge(serverKey, repoName string, global, server, repo rawRepo) (*RepoDescriptor, error) {
	str := func(vals ...string) string {
		for _, v := range vals {
			if v != "" {
				return v
			}
		}
		return ""
	}
	b := func(def bool, vals ...*bool) bool {
		for _, v := range vals {
			if v != nil {
				return *v
			}
		}
		return def
	}
	i := func(def int, vals ...*int) int {
		for _, v := range vals {
			if v != nil {
				return *v
			}
		}
		return def
	}

	typ := SourceType(str(repo.Type, server.Type, global.Type, string(SourceSVN)))
	url := str(repo.URL, joinURL(server.RepoParentURL, repo.GitRepoName), repo.RepoParentURL)
	if url == "" {
		return nil, errors.New("url is required")
	}
	codeHost := str(repo.CodeHostName, server.CodeHostName)
	if codeHost == "" {
		return nil, errors.New("code-host-name is required")
	}
	org := str(repo.GitOrgName, server.GitOrgName, serverKey)
	name := str(repo.GitRepoName, repoName)

	layout, err := mergeLayout(repo, server)
	if err != nil {
		return nil, err
	}

	fetchIntervalSeconds := i(0, repo.FetchIntervalSeconds, server.FetchIntervalSeconds, global.FetchIntervalSeconds)

	return &RepoDescriptor{
		RepoKey:                     RepoKey(codeHost, org, name),
		Type:                        typ,
		URL:                         url,
		CodeHostName:                codeHost,
		OrgName:                     org,
		ServerKey:                   serverKey,
		Username:                    str(repo.Username, server.Username, global.Username),
		Password:                    str(repo.Password, server.Password, global.Password),
		Layout:                      layout,
		GitDefaultBranch:            str(repo.GitDefaultBranch, server.GitDefaultBranch, global.GitDefaultBranch, "master"),
		BareClone:                   b(true, repo.BareClone, server.BareClone, global.BareClone),
		DefaultBranchOnly:           b(false, repo.DefaultBranchOnly, server.DefaultBranchOnly, global.DefaultBranchOnly),
		FetchBatchSize:              i(100, repo.FetchBatchSize, server.FetchBatchSize, global.FetchBatchSize),
		AuthorsFilePath:             str(repo.AuthorsFilePath, server.AuthorsFilePath, global.AuthorsFilePath),
		IgnoreFilePath:              str(repo.GitIgnoreFilePath, server.GitIgnoreFilePath, global.GitIgnoreFilePath),
		AuthorsProgPath:             str(repo.AuthorsProgPath, server.AuthorsProgPath, global.AuthorsProgPath),
		MaxRetries:                  i(3, repo.MaxRetries, server.MaxRetries, global.MaxRetries),
		FetchInterval:               time.Duration(fetchIntervalSeconds) * time.Second,
		AllowInactivityTimeoutFetch: b(false, repo.AllowInactivityTimeout, server.AllowInactivityTimeout, global.AllowInactivityTimeout),
		GCOnBootstrap:               b(true, repo.GCOnBootstrap, server.GCOnBootstrap, global.GCOnBootstrap),
	}, nil
}

func mergeLayout(repo, server rawRepo) (Layout, error) {
	explicit := func(r rawRepo) bool { return r.Trunk != "" || len(r.Branches) > 0 || len(r.Tags) > 0 }

	switch {
	case explicit(repo):
		return Layout{Trunk: repo.Trunk, Branches: repo.Branches, Tags: repo.Tags}, nil
	case repo.Layout != "" && repo.Layout != "standard":
		return Layout{}, errors.Newf("unsupported layout %q", repo.Layout)
	case explicit(server):
		return Layout{Trunk: server.Trunk, Branches: server.Branches, Tags: server.Tags}, nil
	default:
		return Layout{Standard: true, Trunk: "trunk", Branches: []string{"branches"}, Tags: []string{"tags"}}, nil
	}
}

func joinURL(parent, name string) string {
	if parent == "" || name == "" {
		return ""
	}
	return strings.TrimRight(parent, "/") + "/" + name
}

func registerSecrets(d *RepoDescriptor, sink *redact.Sink) {
	if sink == nil {
		return
	}
	sink.Register(d.Username)
	sink.Register(d.Password)
}

// warnUnknownKeys is a best-effort pass over the raw document that logs
// (but does not reject) keys this loader doesn't recognize, per §6:
// "Unknown keys are warned, not rejected."
func warnUnknownKeys(doc map[string]yaml.Node, logger log.Logger) {
	for serverKey, node := range doc {
		if serverKey == "global" {
			warnUnknownInMapping(serverKey, &node, logger)
			continue
		}
		var m map[string]yaml.Node
		if err := node.Decode(&m); err != nil {
			continue
		}
		for k, v := range m {
			if k == "repos" {
				var repos map[string]yaml.Node
				if err := v.Decode(&repos); err != nil {
					continue
				}
				for repoName, rn := range repos {
					warnUnknownInMapping(serverKey+"."+repoName, &rn, logger)
				}
				continue
			}
			if _, ok := knownKeys[k]; !ok {
				logger.Warn("unknown config key", log.String("server", serverKey), log.String("key", k))
			}
		}
	}
}

func warnUnknownInMapping(scope string, node *yaml.Node, logger log.Logger) {
	var m map[string]yaml.Node
	if err := node.Decode(&m); err != nil {
		return
	}
	for k := range m {
		if _, ok := knownKeys[k]; !ok {
			logger.Warn("unknown config key", log.String("scope", scope), log.String("key", k))
		}
	}
}

// RepoKey derives the stable, filesystem- and URL-safe identifier for a
// repo from its code host, org, and repo name, per §4.4: this must be
// deterministic across config reloads so an edit never silently forks a
// repo into a second on-disk directory.
func RepoKey(codeHost, org, name string) string {
	sanitize := func(s string) string {
		s = strings.ToLower(s)
		var b strings.Builder
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
				b.WriteRune(r)
			default:
				b.WriteByte('-')
			}
		}
		return strings.Trim(b.String(), "-")
	}
	return fmt.Sprintf("%s-%s-%s", sanitize(codeHost), sanitize(org), sanitize(name))
}
