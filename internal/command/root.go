package command

import "github.com/spf13/cobra"

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collabterm",
		Short: "Collaborative terminal replication",
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newAttachCmd())

	return cmd
}
