package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"xdao.co/archiver/archive"
	"xdao.co/archiver/manager"
)

// openArchive resolves link through the manager and returns the underlying
// archive along with the function that releases it.
func openArchive(ctx context.Context, m *manager.Manager, link string) (*archive.Archive, func(context.Context) error, error) {
	h, release, err := m.Get(ctx, link)
	if err != nil {
		return nil, nil, err
	}
	a, ok := h.(*archive.Archive)
	if !ok {
		return nil, nil, multierr.Append(fmt.Errorf("archive %s has no local store", h.Key()), release(ctx))
	}
	return a, release, nil
}

func newExportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export <link> <file>",
		Short: "Write an archive's manifest and blocks to a bundle file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			rt, err := c.newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, rt.shutdown(context.WithoutCancel(ctx))) }()

			a, release, err := openArchive(ctx, rt.manager, args[0])
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, release(context.WithoutCancel(ctx))) }()

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := a.Export(f); err != nil {
				_ = f.Close()
				_ = os.Remove(args[1])
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported version %d of %s to %s\n", a.Version(), a.Key(), args[1])
			return nil
		},
	}
}

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <link> <file>",
		Short: "Load an archive from a bundle file",
		Long: `Import stores the blocks of a bundle written by "archiver export" and
installs its manifest when it is signed for the archive and newer than the
local copy.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			rt, err := c.newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, rt.shutdown(context.WithoutCancel(ctx))) }()

			a, release, err := openArchive(ctx, rt.manager, args[0])
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, release(context.WithoutCancel(ctx))) }()

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			installed, err := a.Import(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !installed {
				fmt.Fprintf(out, "Archive %s is already at version %d\n", a.Key(), a.Version())
				return nil
			}
			fmt.Fprintf(out, "Imported version %d of %s\n", a.Version(), a.Key())
			return nil
		},
	}
}
