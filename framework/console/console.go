// Package console provides the command line of an application built on the
// kernel: serving, cache management and container inspection.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/km-arc/go-container/framework/app"
	"github.com/km-arc/go-container/framework/container"
)

// KernelFunc creates the kernel the commands operate on.
type KernelFunc func() (*app.Kernel, error)

// NewRootCommand returns the command tree for the application called name.
func NewRootCommand(name string, newKernel KernelFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           name,
		Short:         "Run and inspect the " + name + " service container",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(
		serveCommand(newKernel),
		cacheClearCommand(newKernel),
		cacheWarmupCommand(newKernel),
		cacheListCommand(newKernel),
		cacheSweepCommand(newKernel),
		debugContainerCommand(newKernel),
		dumpCommand(newKernel),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(name string, newKernel KernelFunc) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(name, newKernel)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCommand(newKernel KernelFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot the container and serve HTTP on APP_PORT",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel()
			if err != nil {
				return err
			}
			defer func() { _ = k.Logger().Sync() }()
			err = k.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// ── cache ─────────────────────────────────────────────────────────────────────

func cacheClearCommand(newKernel KernelFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cache:clear",
		Short: "Delete the compiled container of the current environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel()
			if err != nil {
				return err
			}
			if err := k.Manager().Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache for the %q environment was cleared.\n", k.Environment())
			return nil
		},
	}
}

func cacheWarmupCommand(newKernel KernelFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cache:warmup",
		Short: "Compile and publish the container",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel()
			if err != nil {
				return err
			}
			c, err := k.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Container %s written to %s\n", c.Class(), k.Manager().Path())
			return nil
		},
	}
}

func cacheListCommand(newKernel KernelFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cache:list",
		Short: "Show the published and retired containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel()
			if err != nil {
				return err
			}
			m := k.Manager()
			legacy, err := m.Legacy()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			active := m.Active()
			if active == "" {
				active = "(none)"
			}
			fmt.Fprintf(out, "path:    %s\n", m.Path())
			fmt.Fprintf(out, "active:  %s\n", active)
			fmt.Fprintf(out, "fresh:   %t\n", m.Fresh(cmd.Context()))
			for _, class := range legacy {
				fmt.Fprintf(out, "retired: %s\n", class)
			}
			return nil
		},
	}
}

func cacheSweepCommand(newKernel KernelFunc) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cache:sweep",
		Short: "Delete retired container directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel()
			if err != nil {
				return err
			}
			m := k.Manager()
			before, err := m.Legacy()
			if err != nil {
				return err
			}
			m.Sweep(all)
			after, err := m.Legacy()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d retired container(s).\n", len(before)-len(after))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also delete the directory retired by the latest publish")
	return cmd
}

// ── debug ─────────────────────────────────────────────────────────────────────

func debugContainerCommand(newKernel KernelFunc) *cobra.Command {
	var parameters bool
	cmd := &cobra.Command{
		Use:   "debug:container [id]",
		Short: "List the public services, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel()
			if err != nil {
				return err
			}
			c, err := k.Boot(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if parameters {
				params := c.Program().Parameters
				keys := make([]string, 0, len(params))
				for key := range params {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PARAMETER\tVALUE")
				for _, key := range keys {
					fmt.Fprintf(tw, "%s\t%v\n", key, params[key])
				}
				return tw.Flush()
			}

			if len(args) == 1 {
				info, err := c.Describe(args[0])
				if err != nil {
					return err
				}
				printInfo(out, info)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tRESOLVES TO")
			for _, id := range c.IDs() {
				info, err := c.Describe(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\n", id, target(info))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&parameters, "parameters", false, "list the resolved parameters instead")
	return cmd
}

func target(info container.ServiceInfo) string {
	switch {
	case info.Alias != "":
		return "alias for " + info.Alias
	case info.Synthetic:
		return "synthetic"
	}
	return info.Accessor
}

func printInfo(out io.Writer, info container.ServiceInfo) {
	fmt.Fprintf(out, "id:          %s\n", info.ID)
	if info.Alias != "" {
		fmt.Fprintf(out, "alias for:   %s\n", info.Alias)
	}
	if info.Accessor != "" {
		fmt.Fprintf(out, "accessor:    %s\n", info.Accessor)
	}
	fmt.Fprintf(out, "synthetic:   %t\n", info.Synthetic)
	fmt.Fprintf(out, "initialized: %t\n", info.Initialized)
}

// ── dump ──────────────────────────────────────────────────────────────────────

func dumpCommand(newKernel KernelFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the generated container source without publishing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel()
			if err != nil {
				return err
			}
			out, err := k.Manager().Dump(cmd.Context(), k.Build)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out.Root)
			return err
		},
	}
}
