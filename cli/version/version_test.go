package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/clitest"
	"github.com/stretchr/testify/require"
)

func TestVersionMain(t *testing.T) {
	out := clitest.Capture(t)
	args := []string{"cfsmime", "version"}
	require.NoError(t, versionMain(args, cli.Config{}))
	require.Equal(t, FormatVersion(), out.String())
	require.True(t, strings.Contains(out.String(), runtime.Version()))
}
