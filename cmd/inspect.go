package cmd

import (
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var flags targetFlags

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what every discovery strategy finds for a target, without acting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			target, err := flags.target()
			if err != nil {
				return err
			}

			s, err := newSession(ctx, cfg, flags.source())
			if err != nil {
				return err
			}
			defer s.close()

			ins, err := s.engine.Inspect(ctx, target)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ins)
		},
	}

	flags.register(cmd)
	return cmd
}
