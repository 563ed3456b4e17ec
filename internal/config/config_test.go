package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/repo-converter/internal/redact"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMergesRepoServerAndGlobalPrecedence(t *testing.T) {
	path := writeConfig(t, `
global:
  username: global-user
  max-retries: 2
  bare-clone: false
acme:
  code-host-name: acme.example.com
  username: server-user
  repos:
    widgets:
      url: https://svn.example.com/widgets
      max-retries: 9
    gadgets:
      url: https://svn.example.com/gadgets
`)

	logger := logtest.Scoped(t)
	repos, err := Load(path, redact.NewSink(), logger)
	require.NoError(t, err)
	require.Len(t, repos, 2)

	widgets := findByURL(t, repos, "https://svn.example.com/widgets")
	require.Equal(t, 9, widgets.MaxRetries, "repo-level max-retries should win over global")
	require.Equal(t, "server-user", widgets.Username, "server-level username should win over global when repo doesn't override")
	require.False(t, widgets.BareClone, "global bare-clone=false should apply when neither repo nor server override it")

	gadgets := findByURL(t, repos, "https://svn.example.com/gadgets")
	require.Equal(t, 2, gadgets.MaxRetries, "gadgets has no repo-level override, falls through to global")
}

func TestLoadDefaultsStandardLayoutWhenUnset(t *testing.T) {
	path := writeConfig(t, `
acme:
  code-host-name: acme.example.com
  repos:
    widgets:
      url: https://svn.example.com/widgets
`)
	repos, err := Load(path, redact.NewSink(), logtest.Scoped(t))
	require.NoError(t, err)

	widgets := findByURL(t, repos, "https://svn.example.com/widgets")
	require.True(t, widgets.Layout.Standard)
	require.Equal(t, "trunk", widgets.Layout.Trunk)
}

func TestLoadExplicitLayoutOverridesStandard(t *testing.T) {
	path := writeConfig(t, `
acme:
  code-host-name: acme.example.com
  repos:
    widgets:
      url: https://svn.example.com/widgets
      trunk: main
      branches: ["dev"]
      tags: ["releases"]
`)
	repos, err := Load(path, redact.NewSink(), logtest.Scoped(t))
	require.NoError(t, err)

	widgets := findByURL(t, repos, "https://svn.example.com/widgets")
	require.False(t, widgets.Layout.Standard)
	require.Equal(t, "main", widgets.Layout.Trunk)
	require.Equal(t, []string{"dev"}, widgets.Layout.Branches)
	require.Equal(t, []string{"releases"}, widgets.Layout.Tags)
}

func TestLoadRejectsMissingCodeHostName(t *testing.T) {
	path := writeConfig(t, `
acme:
  repos:
    widgets:
      url: https://svn.example.com/widgets
`)
	_, err := Load(path, redact.NewSink(), logtest.Scoped(t))
	require.Error(t, err)
}

func TestLoadRejectsDuplicateRepoKey(t *testing.T) {
	path := writeConfig(t, `
acme:
  code-host-name: acme.example.com
  git-org-name: shared
  repos:
    widgets:
      url: https://svn.example.com/widgets
bravo:
  code-host-name: acme.example.com
  git-org-name: shared
  repos:
    widgets:
      url: https://svn.example.com/other-widgets
`)
	_, err := Load(path, redact.NewSink(), logtest.Scoped(t))
	require.Error(t, err)
}

func TestLoadRegistersCredentialsWithSink(t *testing.T) {
	path := writeConfig(t, `
acme:
  code-host-name: acme.example.com
  repos:
    widgets:
      url: https://svn.example.com/widgets
      username: bot
      password: s3cr3t
`)
	sink := redact.NewSink()
	_, err := Load(path, sink, logtest.Scoped(t))
	require.NoError(t, err)

	require.True(t, sink.Contains("leaked s3cr3t here"))
	require.Equal(t, "[REDACTED]", sink.Redact("s3cr3t"))
}

func TestLoadUnreadableFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), redact.NewSink(), logtest.Scoped(t))
	require.Error(t, err)
}

func TestRepoKeyIsDeterministicAndSanitized(t *testing.T) {
	require.Equal(t, "acme-example-com-teamfoo-my-repo", RepoKey("Acme.Example.com", "TeamFoo", "My Repo"))
	require.Equal(t, RepoKey("a", "b", "c"), RepoKey("a", "b", "c"))
}

func findByURL(t *testing.T, repos map[string]*RepoDescriptor, url string) *RepoDescriptor {
	t.Helper()
	for _, r := range repos {
		if r.URL == url {
			return r
		}
	}
	t.Fatalf("no repo found with url %q", url)
	return nil
}
