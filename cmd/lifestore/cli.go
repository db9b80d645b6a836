package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arthur-debert/lifestore/lifestore"
	"github.com/arthur-debert/lifestore/lifestore/engine"
)

// CLI is the viper driven command line front end of a lifestore
type CLI struct {
	rootCmd   *cobra.Command
	viperInst *viper.Viper

	// set up by PersistentPreRunE
	store   *lifestore.Store
	logger  *slog.Logger
	closeFn func() error
}

// NewCLI creates the command tree
func NewCLI() *CLI {
	cli := &CLI{viperInst: viper.New()}
	cli.setupViperConfig()
	cli.createRootCommand()
	cli.addCommands()
	return cli
}

// Execute runs the root command and closes the store it opened
func (cli *CLI) Execute() error {
	err := cli.rootCmd.Execute()
	if cerr := cli.teardown(); err == nil {
		err = cerr
	}
	return err
}

// setupViperConfig configures config file discovery and LIFESTORE_* variables
func (cli *CLI) setupViperConfig() {
	if configFile := os.Getenv("LIFESTORE_CONFIG"); configFile != "" {
		cli.viperInst.SetConfigFile(configFile)
	} else {
		cli.viperInst.SetConfigName("lifestore")
		cli.viperInst.SetConfigType("yaml")
		cli.viperInst.AddConfigPath(".")
		cli.viperInst.AddConfigPath("$HOME/.lifestore")
	}

	cli.viperInst.AutomaticEnv()
	cli.viperInst.SetEnvPrefix("LIFESTORE")
	// --data-dir -> LIFESTORE_DATA_DIR
	cli.viperInst.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	defaults := lifestore.DefaultConfig()
	cli.viperInst.SetDefault("data-dir", defaults.DataDir)
	cli.viperInst.SetDefault("engine", defaults.Engine)

	// a missing config file is fine
	_ = cli.viperInst.ReadInConfig()
}

func (cli *CLI) createRootCommand() {
	cli.rootCmd = &cobra.Command{
		Use:   "lifestore",
		Short: "Local store for personal payments and food tracking",
		Long: `lifestore keeps personal-life records (payments, food and any domain
declared in a schema file) in a local versioned store.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (LIFESTORE_*)
3. Configuration file (LIFESTORE_CONFIG, ./lifestore.yaml or ~/.lifestore/lifestore.yaml)

Examples:
  lifestore domains
  lifestore insert payments transactions '{"amount": 12.5, "platform": "venmo"}'
  lifestore query payments transactions --where status=pending --sort -createdAt
  lifestore aggregate payments transactions --metric sum --field amount --group-by platform`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = cli.viperInst.BindPFlags(cmd.Flags())
			return cli.setup()
		},
	}
	cli.addGlobalFlags()
}

func (cli *CLI) addGlobalFlags() {
	flags := cli.rootCmd.PersistentFlags()

	flags.StringP("data-dir", "d", "", "Directory holding the domain stores")
	flags.StringP("engine", "e", "", fmt.Sprintf("Storage engine (%s)", strings.Join(engine.Kinds(), "|")))
	flags.StringSlice("schema", nil, "Extra YAML schema files to register")

	flags.StringP("format", "f", "table", "Output format (table|json|yaml)")
	flags.Bool("no-color", false, "Disable colored output")
	flags.String("log-level", "warn", "Log level (debug|info|warn|error)")

	for _, flag := range []string{"data-dir", "engine", "schema", "format", "no-color", "log-level"} {
		_ = cli.viperInst.BindPFlag(flag, flags.Lookup(flag))
		_ = cli.viperInst.BindEnv(flag, "LIFESTORE_"+strings.ToUpper(strings.ReplaceAll(flag, "-", "_")))
	}
}

// config reads the store configuration from every viper source
func (cli *CLI) config() (lifestore.Config, error) {
	cfg := lifestore.DefaultConfig()
	if err := cli.viperInst.Unmarshal(&cfg); err != nil {
		return cfg, NewConfigError("read configuration", err.Error(), CommonSuggestions.CheckConfig)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, NewConfigError("read configuration", err.Error(),
			fmt.Sprintf("Available engines: %s", strings.Join(engine.Kinds(), ", ")),
			CommonSuggestions.CheckConfig)
	}
	return cfg, nil
}

func (cli *CLI) setup() error {
	logger, closeLog, err := initLogging(cli.viperInst.GetString("log-level"), getXDGCacheDir(), cli.rootCmd.ErrOrStderr())
	if err != nil {
		return NewConfigError("initialize logging", err.Error(), CommonSuggestions.CheckPerms)
	}
	cli.logger = logger

	cfg, err := cli.config()
	if err != nil {
		_ = closeLog()
		return err
	}
	st, err := lifestore.OpenConfig(cfg, logger, nil)
	if err != nil {
		_ = closeLog()
		return WrapError("open store", err, CommonSuggestions.CheckConfig)
	}
	logger.Debug("store configured", "data_dir", cfg.DataDir, "engine", cfg.Engine, "schemas", cfg.Schemas)

	cli.store = st
	cli.closeFn = func() error {
		err := st.Close()
		if cerr := closeLog(); err == nil {
			err = cerr
		}
		return err
	}
	return nil
}

func (cli *CLI) teardown() error {
	if cli.closeFn == nil {
		return nil
	}
	fn := cli.closeFn
	cli.closeFn = nil
	cli.store = nil
	return fn()
}

func (cli *CLI) printer(cmd *cobra.Command) (*printer, error) {
	return newPrinter(cmd.OutOrStdout(), cli.viperInst.GetString("format"), cli.viperInst.GetBool("no-color"))
}

// openDomain opens a domain of the configured store
func (cli *CLI) openDomain(cmd *cobra.Command, name string) (*lifestore.Handle, error) {
	h, err := cli.store.OpenDomain(cmd.Context(), name)
	if err != nil {
		return nil, NewDomainError("open domain", name, cli.store.Domains(), err)
	}
	return h, nil
}
