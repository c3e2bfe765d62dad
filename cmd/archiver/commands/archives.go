package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"xdao.co/archiver/archive"
)

func newAddCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "add <link>",
		Aliases: []string{"a"},
		Short:   "Add the archive a link points to",
		Long: `Add resolves the link to an archive key, creates the archive's directory,
joins it to the network and pulls the latest version from the configured
peers. The archive stays in the directory for the next "archiver start".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			rt, err := c.newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, rt.shutdown(context.WithoutCancel(ctx))) }()

			if _, err := rt.manager.Add(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully added archive associated with %s\n", args[0])
			return nil
		},
	}
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <link>",
		Aliases: []string{"rm"},
		Short:   "Remove the archive a link points to and delete its data",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			rt, err := c.newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, rt.shutdown(context.WithoutCancel(ctx))) }()

			// Only running archives can be removed, so bring the directory up
			// first. Archives that fail to open are reported but do not block
			// removing this one.
			if _, serr := rt.manager.Start(ctx); serr != nil {
				c.log.Warnw("Some archives failed to start.", "err", serr)
			}
			if err := rt.manager.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed archive associated with %s\n", args[0])
			return nil
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"l", "ls"},
		Short:   "List the archive keys in the directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			rt, err := c.newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, rt.shutdown(context.WithoutCancel(ctx))) }()

			keys, err := rt.manager.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Found these keys:")
			for _, k := range keys {
				fmt.Fprintln(out, k.String())
			}
			return nil
		},
	}
}

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <link>",
		Short: "Show an archive's key, version and entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			rt, err := c.newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, rt.shutdown(context.WithoutCancel(ctx))) }()

			h, release, err := rt.manager.Get(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, release(context.WithoutCancel(ctx))) }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key: %s\n", h.Key())
			fmt.Fprintf(out, "Discovery key: %s\n", h.Key().Discovery())
			a, ok := h.(*archive.Archive)
			if !ok {
				return nil
			}
			st, err := a.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Version: %d\n", st.Version)
			fmt.Fprintf(out, "Blocks: %d (%d bytes)\n", st.Blocks, st.Bytes)
			if m := a.Manifest(); m != nil {
				for _, e := range m.Entries {
					fmt.Fprintf(out, "  %s\t%d\t%s\n", e.Name, e.Size, e.CID)
				}
			}
			return nil
		},
	}
}
