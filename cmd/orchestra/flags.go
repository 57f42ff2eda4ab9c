package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"orchestra/internal/cli"
	"orchestra/internal/config"
)

type commandOptions struct {
	ConfigPath string
	Overrides  map[string]any
	Help       bool
	Version    bool
}

func newFlagSet() (*flag.FlagSet, *rawFlags) {
	fs := flag.NewFlagSet("orchestra", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	raw := &rawFlags{}
	fs.StringVar(&raw.configPath, "config", "", "Config file path")
	fs.StringVar(&raw.host, "host", "", "Listen host")
	fs.IntVar(&raw.port, "port", 0, "First port to try")
	fs.StringVar(&raw.token, "token", "", "Shared auth token")
	fs.StringVar(&raw.logLevel, "log-level", "", "Log level")
	fs.StringVar(&raw.dbPath, "db", "", "SQLite history path")
	fs.BoolVar(&raw.memory, "memory", false, "Keep history in memory")
	fs.Var(&raw.sets, "set", "Override a setting (key=value)")
	raw.helpVersion = cli.AddHelpVersionFlags(fs, "", "")
	fs.Usage = func() {}
	return fs, raw
}

type rawFlags struct {
	configPath  string
	host        string
	port        int
	token       string
	logLevel    string
	dbPath      string
	memory      bool
	sets        config.OverrideList
	helpVersion *cli.HelpVersionFlags
}

func parseFlags(args []string, lookupEnv func(string) (string, bool)) (commandOptions, error) {
	fs, raw := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return commandOptions{}, err
	}
	if fs.NArg() > 0 {
		return commandOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	options := commandOptions{
		Help:    raw.helpVersion.Help,
		Version: raw.helpVersion.Version,
	}
	if options.Help || options.Version {
		return options, nil
	}

	overrides, err := config.ParseOverrides(raw.sets)
	if err != nil {
		return commandOptions{}, err
	}
	if overrides == nil {
		overrides = make(map[string]any)
	}
	set := cli.SetFlags(fs)
	if set["db"] && set["memory"] {
		return commandOptions{}, fmt.Errorf("--db and --memory cannot be combined")
	}
	if set["host"] {
		overrides["server.host"] = raw.host
	}
	if set["port"] {
		overrides["server.port"] = raw.port
	}
	if set["token"] {
		overrides["server.auth-token"] = raw.token
	}
	if set["log-level"] {
		overrides["log.level"] = raw.logLevel
	}
	if set["db"] {
		overrides["persistence.path"] = raw.dbPath
	}
	if set["memory"] && raw.memory {
		overrides["persistence.path"] = ""
	}
	options.Overrides = overrides

	options.ConfigPath = config.DefaultPath
	if lookupEnv != nil {
		if value, ok := lookupEnv(config.EnvConfig); ok && strings.TrimSpace(value) != "" {
			options.ConfigPath = strings.TrimSpace(value)
		}
	}
	if set["config"] {
		options.ConfigPath = raw.configPath
	}
	return options, nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: orchestra [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Runs the message bus that connects a conductor, its agents and the dashboard.")
	cli.WriteOptionGroup(out, "Server", []cli.HelpOption{
		{Name: "--host HOST", Desc: "Listen host (default all interfaces)"},
		{Name: "--port PORT", Desc: "First port to try (default 7777, 0 for ephemeral)"},
		{Name: "--token TOKEN", Desc: "Require this token on every connection"},
	})
	cli.WriteOptionGroup(out, "Storage", []cli.HelpOption{
		{Name: "--db PATH", Desc: "SQLite history path"},
		{Name: "--memory", Desc: "Keep history in memory only"},
	})
	cli.WriteOptionGroup(out, "Configuration", []cli.HelpOption{
		{Name: "--config PATH", Desc: "Config file, TOML or YAML (env: " + config.EnvConfig + ")"},
		{Name: "--set KEY=VALUE", Desc: "Override a setting, repeatable"},
		{Name: "--log-level LEVEL", Desc: "debug, info, warning or error"},
	})
	cli.WriteOptionGroup(out, "Other", []cli.HelpOption{
		{Name: "-h, --help", Desc: "Show help"},
		{Name: "-v, --version", Desc: "Print version and exit"},
	})
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Settings:")
	for _, key := range config.Keys() {
		fmt.Fprintf(out, "  %s\n", key)
	}
}
