package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tools.zach/dev/xcodecord/internal/atomicfile"
	"tools.zach/dev/xcodecord/internal/ax"
	"tools.zach/dev/xcodecord/internal/config"
	"tools.zach/dev/xcodecord/internal/icons"
	"tools.zach/dev/xcodecord/internal/logger"
	"tools.zach/dev/xcodecord/internal/paths"
	"tools.zach/dev/xcodecord/internal/presence"
	"tools.zach/dev/xcodecord/internal/xcode"
)

// errNotTrusted is returned when the accessibility permission is missing.
var errNotTrusted = errors.New("accessibility permission not granted")

// trustPollInterval is how often the permission is re-checked while waiting.
const trustPollInterval = 500 * time.Millisecond

// ///////////////////////////////////////////////
// run
// ///////////////////////////////////////////////

func newRunCmd(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the presence daemon (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), *opts, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&opts.Foreground, "foreground", false, "also write log lines to stderr")
	return cmd
}

// ///////////////////////////////////////////////
// status
// ///////////////////////////////////////////////

// statusReport is the YAML document printed by the status command.
type statusReport struct {
	State    string            `yaml:"state"`
	Working  *presence.Working `yaml:"working,omitempty"`
	Presence *presence.Payload `yaml:"presence,omitempty"`
}

// pollOnce classifies Xcode once and maps the result with cfg. Nothing is
// persisted.
func pollOnce(sys ax.System, cfg *config.Config, ic presence.Icons) statusReport {
	x := xcode.New(sys, cfg.Xcode, nil)
	x.Poll()
	s := x.State()

	r := statusReport{State: s.DisplayName()}
	if w, ok := s.Work(); ok {
		r.Working = &w
	}
	if p, ok := presence.NewMapper(cfg, ic).Map(s); ok {
		r.Presence = &p
	}
	return r
}

func newStatusCmd(opts *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Poll Xcode once and print the state and the presence it maps to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPaths := DataPaths{Root: opts.DataDir}
			cfg, err := loadConfig(dataPaths)
			if err != nil {
				return err
			}
			sys, err := openSystem(opts.Snapshot)
			if err != nil {
				return err
			}
			if !sys.Trusted(false) {
				return fmt.Errorf("%w (run %q)", errNotTrusted, paths.BinaryName+" trust")
			}

			// The cached manifest keeps status off the network.
			var ic presence.Icons
			if m, err := icons.Cached(dataPaths.Root); err == nil {
				ic = m
			}

			out, err := yaml.Marshal(pollOnce(sys, cfg, ic))
			if err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// ///////////////////////////////////////////////
// dump
// ///////////////////////////////////////////////

func newDumpCmd(opts *runOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Capture the Xcode accessibility tree as a YAML snapshot",
		Long: "dump records the Xcode window tree in the format accepted by --snapshot, " +
			"so a session can be replayed without Xcode.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPaths := DataPaths{Root: opts.DataDir}
			cfg, err := loadConfig(dataPaths)
			if err != nil {
				return err
			}
			sys, err := openSystem(opts.Snapshot)
			if err != nil {
				return err
			}

			snap := ax.CaptureSnapshot(sys, cfg.Xcode.BundleID)
			if snap.Untrusted {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v, snapshot is empty\n", errNotTrusted)
			}
			data, err := snap.Marshal()
			if err != nil {
				return err
			}

			if output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "" {
				output = dataPaths.Snapshot()
			}
			if err := atomicfile.Write(output, data, 0o644); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "snapshot file (default <data-dir>/snapshot.yaml, - for stdout)")
	return cmd
}

// ///////////////////////////////////////////////
// trust
// ///////////////////////////////////////////////

// waitTrusted polls sys until the permission is granted. A zero timeout
// waits until ctx ends.
func waitTrusted(ctx context.Context, sys ax.System, timeout, interval time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if sys.Trusted(false) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errNotTrusted
		case <-ticker.C:
		}
	}
}

func newTrustCmd(opts *runOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Ask macOS for the accessibility permission and wait for the grant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem(opts.Snapshot)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sys.Trusted(false) {
				fmt.Fprintln(out, "accessibility permission granted")
				return nil
			}

			if !cmd.Flags().Changed("timeout") {
				cfg, err := loadConfig(DataPaths{Root: opts.DataDir})
				if err != nil {
					return err
				}
				timeout = time.Duration(cfg.Behavior.PermissionTimeoutSeconds) * time.Second
			}

			sys.Trusted(true)
			fmt.Fprintln(out, "waiting for the grant in System Settings > Privacy & Security > Accessibility")
			if err := waitTrusted(cmd.Context(), sys, timeout, trustPollInterval); err != nil {
				return err
			}
			fmt.Fprintln(out, "accessibility permission granted")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait (default behavior.permission_timeout_seconds, 0 waits forever)")
	return cmd
}

// ///////////////////////////////////////////////
// logs
// ///////////////////////////////////////////////

func newLogsCmd(opts *runOptions) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := DataPaths{Root: opts.DataDir}.Log()
			tail, err := logger.ReadTail(path, lines)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("no log file at %s", path)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to print")
	return cmd
}

// ///////////////////////////////////////////////
// version
// ///////////////////////////////////////////////

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", paths.BinaryName, resolveVersion())
		},
	}
}
