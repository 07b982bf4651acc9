package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360/vatdata/slot"
)

func newKindsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the kinds recorded in the unit's store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := setupLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format, cfg.Unit.Name)

			u, err := openUnit(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer u.Close()

			kinds, err := u.manager.Kinds(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tHANDLE\tTAG\tDEFINED\tFACETS")
			for _, k := range kinds {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n",
					k.KindID, slot.EncodeKindHandle(k.KindID), k.Tag, k.Defined, strings.Join(k.Facets, ","))
			}
			return tw.Flush()
		},
	}
}
