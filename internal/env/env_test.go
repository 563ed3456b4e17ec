package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetFallsBackToDefault(t *testing.T) {
	t.Setenv("REPO_CONVERTER_TEST_UNSET_VAR", "")
	require.Equal(t, "fallback", Get("REPO_CONVERTER_TEST_UNSET_VAR_NOT_REALLY_SET", "fallback", "desc"))
}

func TestGetReadsEnvironment(t *testing.T) {
	t.Setenv("REPO_CONVERTER_TEST_VAR", "from-env")
	require.Equal(t, "from-env", Get("REPO_CONVERTER_TEST_VAR", "fallback", "desc"))
}

func TestGetIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("REPO_CONVERTER_TEST_INT_GOOD", "42")
	require.Equal(t, 42, GetInt("REPO_CONVERTER_TEST_INT_GOOD", 7, "desc"))

	t.Setenv("REPO_CONVERTER_TEST_INT_BAD", "not-a-number")
	require.Equal(t, 7, GetInt("REPO_CONVERTER_TEST_INT_BAD", 7, "desc"))
}

func TestGetDurationIsSeconds(t *testing.T) {
	t.Setenv("REPO_CONVERTER_TEST_DURATION", "30")
	require.Equal(t, 30*time.Second, GetDuration("REPO_CONVERTER_TEST_DURATION", 60, "desc"))
}
