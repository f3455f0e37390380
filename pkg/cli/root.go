package cli

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// logger is shared by every command; SetupLogger replaces its settings
var logger = logrus.New()

// SetupLogger configures CLI logging. An unknown level falls back to info.
func SetupLogger(level string) *logrus.Logger {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "accessctl",
		Description: "accessctl - access profile and assignment administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("accessctl", flag.ExitOnError),
	}

	root.Subcommands["profiles"] = newProfilesCommand()
	root.Subcommands["permissions"] = newPermissionsCommand()
	root.Subcommands["deactivate"] = newDeactivateCommand()
	root.Subcommands["delete"] = newDeleteCommand()
	root.Subcommands["purge"] = newPurgeCommand()
	root.Subcommands["assign"] = newAssignCommand()
	root.Subcommands["migrate"] = newMigrateCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs dispatches args to a subcommand
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// serverFlag registers the --server flag shared by API commands
func serverFlag(fs *flag.FlagSet) {
	fs.String("server", envOr("ACCESSKIT_SERVER", "http://localhost:8080"), "accessd base URL")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
