package svnconvert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProbeOutputExtractsFields(t *testing.T) {
	lines := []string{
		"Path: .",
		"URL: https://svn.example.com/repo/trunk",
		"Repository Root: https://svn.example.com/repo",
		"Repository UUID: 11111111-2222-3333-4444-555555555555",
		"Revision: 42",
		"Node Kind: directory",
		"Last Changed Rev: 37",
	}

	res, err := parseProbeOutput(lines)
	require.NoError(t, err)
	require.Equal(t, "https://svn.example.com/repo/trunk", res.URL)
	require.Equal(t, "https://svn.example.com/repo", res.RepoRoot)
	require.Equal(t, "11111111-2222-3333-4444-555555555555", res.RepoUUID)
	require.Equal(t, 42, res.Revision)
	require.Equal(t, 37, res.LastChangedRev)
}

func TestParseProbeOutputMissingRequiredFieldsErrors(t *testing.T) {
	_, err := parseProbeOutput([]string{"Path: .", "Revision: 1"})
	require.Error(t, err)
}
