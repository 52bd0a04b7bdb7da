package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stevecastle/gamelauncher/dxvk"
)

var runnersCmd = &cobra.Command{
	Use:   "runners",
	Short: "List wine runners",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			families, err := a.runners.List(ctx)
			if err != nil {
				return err
			}
			cur, _ := a.runners.Current(ctx)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range families {
				fmt.Fprintf(w, "%s\n", f.Title)
				for _, r := range f.Runners {
					fmt.Fprintf(w, "  %s\t%s\t%s\n", marker(cur != nil && cur.Name == r.Name), r.Name, flags(r.Installed, r.Recommended))
				}
			}
			return w.Flush()
		})
	},
}

var runnersSelectCmd = &cobra.Command{
	Use:   "select NAME",
	Short: "Select an installed runner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			r, err := a.runners.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !r.Installed {
				return fmt.Errorf("runner %s is not installed", r.Name)
			}
			return a.runners.Select(ctx, r.Name)
		})
	},
}

var runnersDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete an installed runner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			r, err := a.runners.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return a.runners.Delete(*r)
		})
	},
}

var dxvkCmd = &cobra.Command{
	Use:   "dxvk",
	Short: "List DXVK builds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			list, err := a.dxvks.List(ctx)
			if err != nil {
				return err
			}
			cur, _ := a.dxvks.Current(ctx)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", marker(cur != nil && cur.Version == d.Version), d.Version, flags(d.Installed, d.Recommended))
			}
			return w.Flush()
		})
	},
}

var dxvkSelectCmd = &cobra.Command{
	Use:   "select VERSION",
	Short: "Select an installed DXVK build and apply it to the prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			d, err := a.dxvks.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !d.Installed {
				return fmt.Errorf("dxvk %s is not installed", d.Version)
			}
			if err := a.dxvks.Select(ctx, d.Version); err != nil {
				return err
			}
			return applyDXVK(ctx, a, d.Version)
		})
	},
}

var dxvkDeleteCmd = &cobra.Command{
	Use:   "delete VERSION",
	Short: "Delete an installed DXVK build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.dxvks.Delete(args[0])
		})
	},
}

func init() {
	runnersCmd.AddCommand(runnersSelectCmd, runnersDeleteCmd)
	dxvkCmd.AddCommand(dxvkSelectCmd, dxvkDeleteCmd)
}

// applyDXVK installs the build into the prefix using the selected runner.
func applyDXVK(ctx context.Context, a *app, version string) error {
	r, err := a.runners.Current(ctx)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("select a runner before applying dxvk")
	}
	w := dxvk.Wine{
		Wine:       a.runners.Binary(*r, r.Files.Wine),
		Wine64:     a.runners.Binary(*r, r.Files.Wine64),
		Wineserver: a.runners.Binary(*r, r.Files.Wineserver),
		Winecfg:    a.runners.Binary(*r, r.Files.Winecfg),
		Wineboot:   a.runners.Binary(*r, r.Files.Wineboot),
	}
	return a.dxvks.Apply(ctx, a.cfg.Prefix, version, w)
}

func marker(selected bool) string {
	if selected {
		return "*"
	}
	return " "
}

func flags(installed, recommended bool) string {
	var s string
	if installed {
		s = "installed"
	}
	if recommended {
		if s != "" {
			s += ", "
		}
		s += "recommended"
	}
	return s
}
