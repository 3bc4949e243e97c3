// Package main implements the xcodecord command, which reads what Xcode is
// showing through the macOS accessibility API and publishes it as Discord
// Rich Presence.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	rootpkg "tools.zach/dev/xcodecord"
	"tools.zach/dev/xcodecord/internal/atomicfile"
	"tools.zach/dev/xcodecord/internal/ax"
	"tools.zach/dev/xcodecord/internal/config"
	"tools.zach/dev/xcodecord/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set for releases with -ldflags "-X main.version=0.1.0".
// Otherwise resolveVersion falls back to the VCS info the Go toolchain embeds.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and dirty
// state produce a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns ~/.xcodecord, or ./.xcodecord if the home directory
// cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Shared Setup
// ///////////////////////////////////////////////

// loadConfig seeds config.toml from the embedded defaults on first run and
// loads it.
func loadConfig(dataPaths DataPaths) (*config.Config, error) {
	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if _, err := atomicfile.Seed(dataPaths.Config(), rootpkg.DefaultConfigTOML, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	}
	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openSystem returns the live accessibility backend, or a replay of the
// snapshot file when one is given.
func openSystem(snapshot string) (ax.System, error) {
	if snapshot != "" {
		if _, err := ax.LoadSnapshot(snapshot); err != nil {
			return nil, err
		}
		return ax.FileSystem{Path: snapshot}, nil
	}
	return ax.NewSystem()
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func newRootCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   paths.BinaryName,
		Short: "Show what you are doing in Xcode as Discord Rich Presence",
		Long: "xcodecord polls the Xcode window through the accessibility API and " +
			"publishes the workspace, open file and issue counts to Discord.\n\n" +
			"Without a subcommand it runs the daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.DataDir, "data-dir", defaultDataDir(), "data directory for config, cache and logs")
	flags.StringVar(&opts.Snapshot, "snapshot", "", "read Xcode from a YAML snapshot instead of the accessibility API")
	cmd.Flags().BoolVar(&opts.Foreground, "foreground", false, "also write log lines to stderr")

	cmd.AddCommand(newRunCmd(&opts))
	cmd.AddCommand(newStatusCmd(&opts))
	cmd.AddCommand(newDumpCmd(&opts))
	cmd.AddCommand(newTrustCmd(&opts))
	cmd.AddCommand(newLogsCmd(&opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", paths.BinaryName, err)
		os.Exit(1)
	}
}
