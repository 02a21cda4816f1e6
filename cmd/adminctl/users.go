package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/reflink/pagination"
)

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect console users",
	}
	cmd.AddCommand(a.usersListCmd())
	return cmd
}

func (a *app) usersListCmd() *cobra.Command {
	var (
		pageSize int
		pages    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users, newest first",
		Long: `List users newest first, one page at a time.

--pages limits how many pages are fetched; 0 fetches until the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("page-size") {
				pageSize = a.v.GetInt(cfgKeyPageSize)
			}
			cursor, err := pagination.New(a.backend, "users", pageSize, a.logger)
			if err != nil {
				return userError{err}
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tEMAIL")

			fetched := 0
			for pages == 0 || fetched < pages {
				page, err := cursor.FetchPage(cmd.Context(), false)
				if err != nil {
					return err
				}
				fetched++
				for _, d := range page.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.CreatedAt.UTC().Format(time.RFC3339), d.String("email"))
				}
				if page.State.Exhausted {
					break
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			st := cursor.State()
			more := "end of list"
			if !st.Exhausted {
				more = "more available"
			}
			fmt.Fprintf(a.out, "%d users in %d pages (%s)\n", len(cursor.Items()), fetched, more)
			return nil
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", defaultPageSize, "users per page")
	cmd.Flags().IntVar(&pages, "pages", 0, "maximum pages to fetch (0 for all)")
	return cmd
}
