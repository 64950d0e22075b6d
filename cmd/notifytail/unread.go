package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print unread notifications and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			items, err := s.unread(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "no unread notifications")
				return nil
			}
			for _, n := range items {
				fmt.Fprintf(out, "%s  %s  %s\n", n.ID, n.Title, n.Message)
			}
			return nil
		},
	}
}
