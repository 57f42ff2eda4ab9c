// Package cli holds the flag and help plumbing shared by the orchestra
// binaries.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"orchestra/internal/version"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// SetFlags returns the names of flags given on the command line.
func SetFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

type HelpOption struct {
	Name string
	Desc string
}

func WriteOptionGroup(out io.Writer, title string, options []HelpOption) {
	if len(options) == 0 {
		return
	}
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, title+":")
	for _, option := range options {
		fmt.Fprintf(out, "  %-24s %s\n", option.Name, option.Desc)
	}
}

func PrintVersion(out io.Writer) {
	fmt.Fprintln(out, version.GetVersionInfo().String())
}

// MaskToken keeps a token out of logs while showing that one was set.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:2] + strings.Repeat("*", len(token)-4) + token[len(token)-2:]
}
