package reposstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/repo-converter/internal/config"
)

func TestNewStoreStartsEmpty(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	require.Equal(t, 0, snap.Len())
}

func TestReplaceInstallsNewSnapshotAtomically(t *testing.T) {
	s := New()
	repos := map[string]*config.RepoDescriptor{
		"acme-web-app": {RepoKey: "acme-web-app", ServerKey: "server-a"},
	}
	s.Replace(repos)

	snap := s.Snapshot()
	require.Equal(t, 1, snap.Len())
	d, ok := snap.Get("acme-web-app")
	require.True(t, ok)
	require.Equal(t, "server-a", d.ServerKey)
}

func TestSnapshotGetMissingRepoReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Snapshot().Get("does-not-exist")
	require.False(t, ok)
}

func TestAllIsOrderedByRepoKey(t *testing.T) {
	s := New()
	s.Replace(map[string]*config.RepoDescriptor{
		"zeta":  {RepoKey: "zeta"},
		"alpha": {RepoKey: "alpha"},
		"mu":    {RepoKey: "mu"},
	})

	all := s.Snapshot().All()
	require.Len(t, all, 3)
	require.Equal(t, []string{"alpha", "mu", "zeta"}, []string{all[0].RepoKey, all[1].RepoKey, all[2].RepoKey})
}

func TestOldSnapshotUnaffectedByLaterReplace(t *testing.T) {
	s := New()
	s.Replace(map[string]*config.RepoDescriptor{"a": {RepoKey: "a"}})
	old := s.Snapshot()

	s.Replace(map[string]*config.RepoDescriptor{"a": {RepoKey: "a"}, "b": {RepoKey: "b"}})

	require.Equal(t, 1, old.Len(), "a snapshot taken before Replace must not observe the later update")
	require.Equal(t, 2, s.Snapshot().Len())
}
