package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyEnvWithOverrides(t *testing.T) {
	examples := []struct {
		label          string
		env            []string
		overrides      map[string]string
		expectedResult []string
	}{
		{
			label:     "empty",
			overrides: map[string]string{},
		},
		{
			label: "original env only",
			env:   []string{"A=B", "B=C"},
			expectedResult: []string{
				"A=B",
				"B=C",
			},
		},
		{
			label: "overrides only",
			env:   []string{},
			overrides: map[string]string{
				"A": "B",
				"B": "C",
			},
			expectedResult: []string{
				"A=B",
				"B=C",
			},
		},
		{
			label: "mix of overrides and not",
			env:   []string{"ORIGINAL1=abc", "ORIGINAL2=def"},
			overrides: map[string]string{
				"ORIGINAL1": "override1",
				"OVERRIDE1": "also override",
			},
			expectedResult: []string{
				"ORIGINAL1=override1",
				"ORIGINAL2=def",
				"OVERRIDE1=also override",
			},
		},
	}

	for _, ex := range examples {
		ex := ex
		t.Run(ex.label, func(t *testing.T) {
			assert.ElementsMatch(t, ex.expectedResult, copyEnvWithOverrides(ex.env, ex.overrides))
		})
	}
}

func TestSubprocessWaitCheckSucceedsOnZeroExit(t *testing.T) {
	sub, err := NewSubprocessLauncher("true").Spawn(context.Background())
	require.NoError(t, err)
	assert.NoError(t, sub.WaitCheck(context.Background()))
}

func TestSubprocessWaitCheckReportsExitError(t *testing.T) {
	sub, err := NewSubprocessLauncher("sh", "-c", "exit 2").Spawn(context.Background())
	require.NoError(t, err)

	err = sub.WaitCheck(context.Background())
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.False(t, exitErr.Signaled)
}

func TestSubprocessStdoutPipeCapturesOutput(t *testing.T) {
	sub, err := NewSubprocessLauncher("echo", "hello").WithFlags(FlagStdoutPipe).Spawn(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub.Stdout())

	buf := make([]byte, 16)
	n, _ := sub.Stdout().Read(buf)
	assert.Equal(t, "hello\n", string(buf[:n]))

	assert.NoError(t, sub.WaitCheck(context.Background()))
}

func TestResolvedArgvRunOnHostPrependsFlatpakSpawn(t *testing.T) {
	l := NewSubprocessLauncher("make", "install").WithFlags(FlagRunOnHost)
	assert.Equal(t, []string{"flatpak-spawn", "--host", "make", "install"}, l.resolvedArgv())
}

func TestLauncherStringRendersShellQuotedLine(t *testing.T) {
	l := NewSubprocessLauncher("sh", "-c", "echo it's here").WithCwd("/tmp/src")
	assert.Equal(t, `sh '-c' 'echo it'\''s here'`+" from directory '/tmp/src'", l.String())
}
