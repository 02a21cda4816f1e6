package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/reflink/console"
	"github.com/jacentio/reflink/integrity"
)

func (a *app) deleteCmd() *cobra.Command {
	var replacement string

	cmd := &cobra.Command{
		Use:   "delete <entity-type> <id>",
		Short: "Delete an entity, migrating its dependents first",
		Long: `Delete an avatar or category.

If challenges still reference the entity, --replace must name another
entity of the same type; the challenges are moved to it before the delete.
A failed migration leaves the entity in place and reports how many
challenges were moved.`,
		Example: `  adminctl delete category C9
  adminctl delete avatar A1 --replace A2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, id := args[0], args[1]
			svc := a.service()

			d := console.NewDispatcher(a.logger)
			d.Register(console.ActionDelete, console.DeleteAction(svc, entityType,
				func(string) string { return replacement }, a.logger))

			err := d.Dispatch(cmd.Context(), console.ActionDelete, id)

			var partial *integrity.PartialMigrationError
			switch {
			case err == nil:
				fmt.Fprintf(a.out, "Deleted %s %s\n", entityType, id)
				return nil
			case errors.As(err, &partial):
				fmt.Fprintf(a.out, "Migration stopped: %d of %d dependents migrated (batch %d of %d failed); %s %s was not deleted\n",
					partial.Migrated, partial.Total, partial.FailedBatchIndex+1, partial.TotalBatches, entityType, id)
			case errors.Is(err, integrity.ErrMigrationRequired):
				return userError{fmt.Errorf("%w; pass --replace <id>", err)}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&replacement, "replace", "", "entity receiving the dependents")
	return cmd
}
