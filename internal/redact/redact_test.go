package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSinkRedactsRegisteredSecrets(t *testing.T) {
	s := NewSink()
	s.Register("hunter2")
	s.Register("tok_abc123")

	got := s.Redact("password=hunter2 token=tok_abc123 done")
	require.Equal(t, "password=[REDACTED] token=[REDACTED] done", got)
}

func TestSinkIgnoresEmptySecret(t *testing.T) {
	s := NewSink()
	s.Register("")

	require.Equal(t, "unchanged", s.Redact("unchanged"))
}

func TestSinkRedactArgv(t *testing.T) {
	s := NewSink()
	s.Register("swordfish")

	out := s.RedactArgv([]string{"svn", "info", "--password", "swordfish"})
	require.Equal(t, []string{"svn", "info", "--password", "[REDACTED]"}, out)
}

func TestSinkContains(t *testing.T) {
	s := NewSink()
	s.Register("secretvalue")

	require.True(t, s.Contains("url?token=secretvalue"))
	require.False(t, s.Contains("url?token=other"))
}

func TestSinkRedactBeforeAnyRegistration(t *testing.T) {
	s := NewSink()
	require.Equal(t, "nothing registered yet", s.Redact("nothing registered yet"))
}
