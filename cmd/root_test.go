//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"update", "refresh", "baseline", "import", "validate", "errors", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ballot-research", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestUpdateCommand_Flags(t *testing.T) {
	for _, name := range []string{"party", "dry-run", "skip-refresh"} {
		assert.NotNil(t, updateCmd.Flags().Lookup(name), "update command should have --%s", name)
	}
	assert.Equal(t, "false", updateCmd.Flags().Lookup("dry-run").DefValue)
}

func TestRefreshCommand_Flags(t *testing.T) {
	require.NotNil(t, refreshCmd.Flags().Lookup("county"))
	require.NotNil(t, refreshCmd.Flags().Lookup("dry-run"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestBaselineCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range baselineCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"seed", "show", "fallbacks"} {
		assert.True(t, names[name], "expected baseline subcommand %q not found", name)
	}
}

func TestErrorsCommand_Flags(t *testing.T) {
	flag := errorsCmd.Flags().Lookup("days")
	require.NotNil(t, flag)
	assert.Equal(t, "1", flag.DefValue)
}
