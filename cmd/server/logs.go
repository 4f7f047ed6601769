package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franckalain/fruitbeast/internal/logstore"
	"github.com/franckalain/fruitbeast/internal/models"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var all bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the fruit log grouped by day",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			owner := userID
			if all {
				owner = ""
			}
			snap, err := logstore.New(db, ctx.log()).List(cmd.Context(), owner)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snap.Days) == 0 {
				fmt.Fprintln(out, "No fruits logged yet.")
				return nil
			}
			for _, day := range sortedDays(snap.Days) {
				names := make([]string, 0, len(snap.Days[day].Fruits))
				for _, f := range snap.Days[day].Fruits {
					names = append(names, fmt.Sprintf("%s (%d)", f.Name, f.Score))
				}
				fmt.Fprintf(out, "%s: %s\n", day, strings.Join(names, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", models.DemoUserID, "Owner of the log")
	cmd.Flags().BoolVar(&all, "all", false, "Show every user's entries")
	return cmd
}

// sortedDays returns date keys newest first
func sortedDays(days map[string]*models.DayLog) []string {
	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, _ := models.ParseDateKey(keys[i])
		tj, _ := models.ParseDateKey(keys[j])
		return ti.After(tj)
	})
	return keys
}
