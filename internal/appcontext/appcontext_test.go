package appcontext

import (
	"testing"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/require"
)

func TestNewWiresCollaboratorsFromSettings(t *testing.T) {
	settings := Settings{
		ConfigPath:             "/etc/repo-converter/config.yaml",
		ServeRoot:              "/data/repos",
		MaxConcurrentGlobal:    8,
		MaxConcurrentPerServer: 2,
	}

	ctx := New(settings, logtest.Scoped(t))

	require.Equal(t, settings, ctx.Settings)
	require.NotNil(t, ctx.Redact)
	require.NotNil(t, ctx.Store)
	require.NotNil(t, ctx.Gate)
	require.NotNil(t, ctx.Table)
	require.Nil(t, ctx.Audit, "Audit is only wired up by main once a log file path is configured")
	require.Equal(t, 8, ctx.Gate.GlobalCap())
	require.Equal(t, int64(0), ctx.CycleCount.Load())
}
