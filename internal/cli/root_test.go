package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "search", "ingest", "ask", "insights"} {
		require.True(t, names[want], "missing command %s", want)
	}
}

func TestArgumentValidation(t *testing.T) {
	cmd, _, err := RootCmd.Find([]string{"ingest"})
	require.NoError(t, err)
	require.Error(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"2401.00001"}))

	cmd, _, err = RootCmd.Find([]string{"search"})
	require.NoError(t, err)
	require.Error(t, cmd.Args(cmd, nil))
	require.Equal(t, "10", cmd.Flags().Lookup("limit").DefValue)
}
