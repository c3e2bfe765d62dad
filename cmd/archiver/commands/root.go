// Package commands implements the archiver command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/archiver/config"
	"xdao.co/archiver/internal/logging"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// cli carries state shared by every command once flags are parsed.
type cli struct {
	cfgFile string
	cfg     *config.Config
	log     *zap.SugaredLogger
}

// NewRootCmd builds the archiver command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "archiver",
		Short: "Keep a directory of replicated archives",
		Long: `archiver manages a collection of content-addressed archives stored under one
directory. Each archive lives in a subdirectory named by its key and is
replicated with the configured peers while the archiver runs.

Running archiver without a command is the same as "archiver start".`,
		Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/archiver/config.yaml)")
	pf.StringP("dir", "d", "", "directory holding the archives (default: ~/.archiver)")
	pf.String("log", "", "log mode: prod, dev or nop")

	start := newStartCmd(c)
	root.Flags().AddFlagSet(start.Flags())
	root.RunE = start.RunE

	root.AddCommand(
		start,
		newAddCmd(c),
		newRemoveCmd(c),
		newListCmd(c),
		newGetCmd(c),
		newExportCmd(c),
		newImportCmd(c),
		newConfigCmd(c),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	if cmd.Annotations["skipConfig"] == "true" {
		return nil
	}
	cfg, err := config.Load(c.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging.Mode)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	return nil
}
