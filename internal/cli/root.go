package cli

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/checkinbot/checkinbot/internal/cli.Version=...".
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	Verbose bool
	Quiet   bool
	NoColor bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "checkinbot",
	Short: "OFC daily check-in runner",
	Long: `checkinbot refreshes every configured account's session, exchanges it for an
application authorization and submits the daily check-in, then repeats every
interval (12h by default).

Accounts are read from line-oriented credential files (proxy.txt, token.txt,
refreshtoken.txt, idtoken.txt); line N of each file belongs to account N.
Refreshed tokens are written back in place.

Running without a command is the same as "checkinbot run".`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if globalFlags.Verbose && globalFlags.Quiet {
			return errors.New("--verbose and --quiet are mutually exclusive")
		}
		return nil
	},
	RunE: runServe,
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", config.PathFromEnv(), "Path to configuration file (env "+config.EnvConfigPath+")")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Print every pipeline step")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Print only warnings, errors and banners")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.NoColor, "no-color", false, "Disable colored output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (check, history, once)")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of checkinbot",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

func printVersion(w io.Writer) {
	info := GetVersionInfo()
	fmt.Fprintln(w, "checkinbot version:", info.Version)
	fmt.Fprintln(w, "Go version:", info.GoVersion)
	fmt.Fprintln(w, "OS/Arch:", info.OS+"/"+info.Arch)
	fmt.Fprintln(w, "Build date:", info.BuildDate)
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	BuildDate string `json:"build_date"`
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: BuildDate,
	}
}
