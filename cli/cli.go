package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/nrednav/cuid2"

	"go.hackfix.me/multimig/app/config"
	actx "go.hackfix.me/multimig/app/context"
)

// CLI is the command line interface of multimig.
type CLI struct {
	Migrate Migrate `kong:"cmd,help='Apply pending migrations of all sources.'"`
	Plan    Plan    `kong:"cmd,help='Show the migrations that would be applied, in order.'"`
	Status  Status  `kong:"cmd,help='Show the migration status of every source.'"`
	Script  Script  `kong:"cmd,help='Print the statement recording a migration as applied.'"`

	Globals `embed:""`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: kong.ConfigFlag isn't used, since the configuration file has a
	// different structure than the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the multimig configuration file.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// Globals are options shared by all commands. Configuration file values are
// applied to them with ApplyConfig.
type Globals struct {
	DSN  string   `kong:"name='dsn',help='Connection string of the database to migrate.'"`
	Skip []string `kong:"sep=',',help='Comma-separated identifiers of migrations to record as applied without running them.'"`

	skipSeedWithNoPending bool
}

// New initializes the command-line interface.
func New(configFilePath, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("multimig"),
		kong.Description("Apply the database migrations of several independent sources as a single timeline."),
		kong.UsageOnError(),
		kong.DefaultEnvars("MULTIMIG"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	runCtx := *appCtx
	runCtx.Logger = appCtx.Logger.With("run_id", cuid2.Generate())

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(&runCtx, &c.Globals)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ApplyConfig applies configuration values to the CLI, but only if they weren't
// already set.
func (c *CLI) ApplyConfig(cfg *config.Config) {
	if c.DSN == "" && cfg.DSN.Valid {
		c.DSN = cfg.DSN.V
	}
	if len(c.Skip) == 0 {
		c.Skip = cfg.Skip
	}
	if cfg.SkipSeedWithNoPending.Valid {
		c.skipSeedWithNoPending = cfg.SkipSeedWithNoPending.V
	}
}
