package cli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout returns what fn prints to stdout
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "accessctl", root.Name)
	assert.NotEmpty(t, root.Description)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"profiles",
		"permissions",
		"deactivate",
		"delete",
		"purge",
		"assign",
		"migrate",
	}

	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
		assert.Equal(t, cmdName, root.Subcommands[cmdName].Name)
		assert.NotNil(t, root.Subcommands[cmdName].Run)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root := NewRootCommand()

	var err error
	output := captureStdout(t, func() { err = root.usage() })

	require.NoError(t, err)
	assert.Contains(t, output, "Usage: accessctl <command> [args]")
	assert.Contains(t, output, "Commands:")
	assert.Contains(t, output, "assign")
	assert.Contains(t, output, "migrate")

	// Sorted
	assert.Less(t, strings.Index(output, "assign"), strings.Index(output, "profiles"))
}

func TestCommandExecute(t *testing.T) {
	root := NewRootCommand()

	t.Run("no args prints usage", func(t *testing.T) {
		var err error
		output := captureStdout(t, func() { err = root.ExecuteArgs(nil) })
		assert.NoError(t, err)
		assert.Contains(t, output, "Usage: accessctl")
	})

	for _, flag := range []string{"-h", "--help", "--HELP", "help"} {
		t.Run("help "+flag, func(t *testing.T) {
			var err error
			output := captureStdout(t, func() { err = root.ExecuteArgs([]string{flag}) })
			assert.NoError(t, err)
			assert.Contains(t, output, "Usage: accessctl")
		})
	}

	t.Run("unknown command", func(t *testing.T) {
		err := root.ExecuteArgs([]string{"frobnicate"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown command: frobnicate")
	})

	t.Run("dispatches to subcommand", func(t *testing.T) {
		var got []string
		root := &Command{
			Name: "test",
			Subcommands: map[string]*Command{
				"echo": {Name: "echo", Run: func(args []string) error {
					got = args
					return nil
				}},
			},
		}
		require.NoError(t, root.ExecuteArgs([]string{"echo", "--x", "1"}))
		assert.Equal(t, []string{"--x", "1"}, got)
	})
}

func TestSetupLogger(t *testing.T) {
	l := SetupLogger("debug")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l = SetupLogger("not-a-level")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestSubcommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"profiles", []string{"server", "org", "inactive", "templates", "locale"}},
		{"permissions", []string{"server", "code"}},
		{"delete", []string{"server", "code"}},
		{"purge", []string{"server", "code"}},
		{"assign", []string{"server", "profile", "org", "search", "limit", "add", "remove", "yes", "dry-run"}},
		{"migrate", []string{"database-url", "timeout"}},
	}

	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			cmd := root.Subcommands[tt.command]
			for _, name := range tt.flags {
				assert.NotNil(t, cmd.Flags.Lookup(name), "missing flag %s", name)
			}
		})
	}
}
