package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{"login", "logout", "whoami", "status", "ls", "get", "put", "mkdir", "rename", "rm", "stat", "config", "run"}

	for _, name := range want {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		assert.True(t, found, "missing subcommand %q", name)
	}
}

func TestRootCommandSilencesCobraOutput(t *testing.T) {
	cmd := newRootCmd()

	require.True(t, cmd.SilenceErrors)
	require.True(t, cmd.SilenceUsage)
}

func TestNavigatorRecordsConsentURL(t *testing.T) {
	nav := &cliNavigator{quiet: true}

	assert.Empty(t, nav.ConsentURL())

	nav.ToConsent("https://consent.example.com/auth")
	assert.Equal(t, "https://consent.example.com/auth", nav.ConsentURL())
}
