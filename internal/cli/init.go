package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/config"
)

func (a *app) initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to edit before the first cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configFile); err == nil && !force {
				return fmt.Errorf("config file %s already exists; pass --force to overwrite it", a.configFile)
			}
			// secrets come from the environment and are never written out
			if err := config.DefaultConfig().Save(a.configFile); err != nil {
				return err
			}
			a.logger.Debug("Config file written", zap.String("path", a.configFile))
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", a.configFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
