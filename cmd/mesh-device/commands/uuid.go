package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func uuidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uuid",
		Short: "Generate a random device UUID",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.NewRandom()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
