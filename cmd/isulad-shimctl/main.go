// Command isulad-shimctl is a debug entry point for exercising the runtime
// adapter core directly, without a daemon in front of it. It is not part of
// the adapter's public contract; it exists so an operator can drive
// create/start/kill/status/stats/rm by hand.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/containers/storage/pkg/reexec"
	"github.com/isula/isulad-runtime-core/pkg/libisulad"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if reexec.Init() {
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	stateRoot  string
	shimBinary string
	configPath string
	stopSignal string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "isulad-shimctl",
		Short:         "drive the isulad-shim runtime adapter directly",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if lvl, err := logrus.ParseLevel(logLevel); err == nil {
				logrus.SetLevel(lvl)
			}
		},
	}

	root.PersistentFlags().StringVar(&stateRoot, "state-root", "/run/isulad-runtime-core", "work directory root")
	root.PersistentFlags().StringVar(&shimBinary, "shim-binary", libisulad.DefaultShimBinary, "isulad-shim binary name or path")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a runtime config TOML file")
	root.PersistentFlags().StringVar(&stopSignal, "stop-signal", "SIGTERM", "daemon-configured stop signal, for kill")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "logrus level")

	root.AddCommand(
		newCreateCmd(),
		newStartCmd(),
		newKillCmd(),
		newStatusCmd(),
		newStatsCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCleanResourceCmd(),
		newRmCmd(),
	)
	return root
}

func newDispatcher() (*libisulad.Dispatcher, error) {
	cfg := libisulad.NewRuntimeConfig()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	sig, err := parseSignal(stopSignal)
	if err != nil {
		return nil, err
	}
	resolver := libisulad.NewResolver(cfg)
	d := libisulad.NewDispatcher(stateRoot, resolver, sig)
	d.ShimBinary = shimBinary
	return d, nil
}

func parseSignal(name string) (syscall.Signal, error) {
	switch strings.ToUpper(name) {
	case "SIGTERM", "TERM":
		return syscall.SIGTERM, nil
	case "SIGKILL", "KILL":
		return syscall.SIGKILL, nil
	case "SIGINT", "INT":
		return syscall.SIGINT, nil
	case "SIGQUIT", "QUIT":
		return syscall.SIGQUIT, nil
	default:
		return 0, errors.Errorf("unrecognized stop signal %q", name)
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newCreateCmd() *cobra.Command {
	var runtime, bundle string
	var args []string
	var openStdin bool

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "create a container's shim and runtime state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"/bin/sh"}
			}
			params := libisulad.CreateParams{
				Bundle:    bundle,
				Runtime:   runtime,
				Process:   specs.Process{Args: args, Cwd: "/"},
				OpenStdin: openStdin,
			}
			return d.Create(cmd.Context(), cliArgs[0], params)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "runc", "OCI runtime name to resolve")
	cmd.Flags().StringVar(&bundle, "bundle", ".", "OCI bundle path")
	cmd.Flags().StringSliceVar(&args, "process-args", nil, "process argv, repeatable/comma-separated")
	cmd.Flags().BoolVar(&openStdin, "interactive", false, "keep stdin open")
	return cmd
}

func newStartCmd() *cobra.Command {
	var runtime string
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "start a previously created container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			info, err := d.Start(cmd.Context(), cliArgs[0], runtime)
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "runc", "OCI runtime name to resolve")
	return cmd
}

func newKillCmd() *cobra.Command {
	var pid int
	var startTimeUnix int64
	var signal string
	cmd := &cobra.Command{
		Use:   "kill <id>",
		Short: "signal a container's init process by recorded (pid, start_time)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			sig, err := parseSignal(signal)
			if err != nil {
				return err
			}
			return d.Kill(pid, time.Unix(startTimeUnix, 0), sig)
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "recorded init pid")
	cmd.Flags().Int64Var(&startTimeUnix, "start-time", 0, "recorded init start time, unix seconds")
	cmd.Flags().StringVar(&signal, "signal", "SIGTERM", "signal to deliver")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var runtime string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "query a container's runtime state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			state, err := d.Status(cmd.Context(), cliArgs[0], runtime)
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "runc", "OCI runtime name to resolve")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var runtime string
	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "query a container's resource usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			stats, err := d.Stats(cmd.Context(), cliArgs[0], runtime)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "runc", "OCI runtime name to resolve")
	return cmd
}

func newPauseCmd() *cobra.Command {
	var runtime string
	cmd := &cobra.Command{
		Use:   "pause <id>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			return d.Pause(cmd.Context(), cliArgs[0], runtime)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "runc", "OCI runtime name to resolve")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var runtime string
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			return d.Resume(cmd.Context(), cliArgs[0], runtime)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "runc", "OCI runtime name to resolve")
	return cmd
}

func newCleanResourceCmd() *cobra.Command {
	var runtime string
	cmd := &cobra.Command{
		Use:   "clean-resource <id>",
		Short: "force the shim dead and reap the runtime's resources for id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			return d.CleanResource(cmd.Context(), cliArgs[0], runtime)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "runc", "OCI runtime name to resolve")
	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "remove a container's work directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			return d.Rm(cliArgs[0])
		},
	}
}
