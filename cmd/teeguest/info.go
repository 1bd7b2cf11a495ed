package main

import (
	"github.com/spf13/cobra"

	"github.com/aspect-build/teeguest/internal/dstack"
)

func newInfoCmd(g *globalOptions) *cobra.Command {
	var rawTcb bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show application identity and TCB measurements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			var (
				info *dstack.InfoResponse
				err  error
			)
			if g.tappd {
				info, err = g.legacy().Info(ctx)
			} else {
				info, err = g.dstack().Info(ctx)
			}
			if err != nil {
				return err
			}
			if rawTcb {
				return printJSON(cmd.OutOrStdout(), info)
			}
			return printJSON(cmd.OutOrStdout(), struct {
				*dstack.InfoResponse
				TcbInfo dstack.TcbInfo `json:"tcb_info"`
			}{info, info.TcbInfo})
		},
	}
	cmd.Flags().BoolVar(&rawTcb, "raw-tcb", false, "Print tcb_info exactly as the daemon sent it")
	return cmd
}
