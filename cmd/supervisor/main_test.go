package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_VersionPrintsVersionString(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"supervisor", "version"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "supervisor v")
}

func TestRun_HelpListsCommands(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"supervisor", "help"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "cycle")
	require.Contains(t, stdout.String(), "loop")
	require.Contains(t, stdout.String(), "doctor")
}

func TestRun_UnknownCommandReturnsExitCode2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"supervisor", "bogus"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "Unknown command")
}
