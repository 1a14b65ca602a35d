package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories and their pipeline names without constructing them.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := newWorkspace()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range ws.Repositories() {
			repo, err := ws.Repository(name)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, name)
			for _, category := range repo.Categories() {
				for _, entry := range repo.Names(category) {
					fmt.Fprintf(out, "  %s/%s\n", category, entry)
				}
			}
		}
		return nil
	},
}

