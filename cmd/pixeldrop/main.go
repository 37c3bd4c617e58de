package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// execFunc runs an external tool with the command's streams attached.
type execFunc func(ctx context.Context, env []string, stdout, stderr io.Writer, name string, args ...string) error

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(runCommand)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pixeldrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(run execFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pixeldrop",
		Short: "Batch image conversion",
		Long: `pixeldrop converts batches of images between png, jpg, webp, gif, bmp and tiff.

The convert command works on local files without any services. The run
commands start the session server, the batch api or the conversion worker
from source; test runs the module's tests.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newConvertCmd(),
		newFormatsCmd(),
		newTestCmd(run),
		newRunCmd(run),
	)
	return cmd
}

func newTestCmd(run execFunc) *cobra.Command {
	var race bool
	var cover bool
	var short bool
	var integration bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			if short {
				goArgs = append(goArgs, "-short")
			}
			if integration {
				// Needs a Docker daemon for the Postgres container.
				goArgs = append(goArgs, "-tags", "integration")
			}
			goArgs = append(goArgs, pkgs...)
			return run(cmd.Context(), nil, cmd.OutOrStdout(), cmd.ErrOrStderr(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	cmd.Flags().BoolVar(&short, "short", false, "Skip slow tests")
	cmd.Flags().BoolVar(&integration, "integration", false, "Include repository integration tests")
	return cmd
}

func newRunCmd(run execFunc) *cobra.Command {
	var configFile string
	var logLevel string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a PixelDrop service from source",
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file passed as PIXELDROP_CONFIG")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Overrides PIXELDROP_LOG_LEVEL")

	env := func() []string {
		var out []string
		if configFile != "" {
			out = append(out, "PIXELDROP_CONFIG="+configFile)
		}
		if logLevel != "" {
			out = append(out, "PIXELDROP_LOG_LEVEL="+logLevel)
		}
		return out
	}
	for _, svc := range []struct{ name, path, short string }{
		{"server", "./cmd/server", "Synchronous session server (in-memory)"},
		{"api", "./cmd/api", "Batch upload api (PostgreSQL, Redis, MinIO)"},
		{"worker", "./cmd/worker", "Batch conversion worker (PostgreSQL, Redis, MinIO)"},
	} {
		path := svc.path
		cmd.AddCommand(&cobra.Command{
			Use:   svc.name,
			Short: svc.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				goArgs := append([]string{"run", path}, args...)
				return run(cmd.Context(), env(), cmd.OutOrStdout(), cmd.ErrOrStderr(), "go", goArgs...)
			},
		})
	}
	return cmd
}

func runCommand(ctx context.Context, env []string, stdout, stderr io.Writer, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Env = append(os.Environ(), env...)
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
