package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/reflink/integrity"
)

// dependentsEntry is the YAML form of one entity's report.
type dependentsEntry struct {
	ID         string           `yaml:"id"`
	Plan       string           `yaml:"plan"`
	Total      int              `yaml:"total"`
	References []referenceEntry `yaml:"references"`
}

type referenceEntry struct {
	Collection string `yaml:"collection"`
	Field      string `yaml:"field"`
	Count      int    `yaml:"count"`
}

func (a *app) dependentsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dependents <entity-type> <id>...",
		Short: "Count documents referencing entities and show the deletion plan",
		Example: `  adminctl dependents avatar A1
  adminctl dependents category C1 C2 C9 -o yaml`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, ids := args[0], args[1:]
			if output != "table" && output != "yaml" {
				return userError{fmt.Errorf("unknown output %q (valid: table, yaml)", output)}
			}

			reports, err := a.service().CheckMany(cmd.Context(), entityType, ids)
			if err != nil {
				return err
			}

			if output == "yaml" {
				entries := make([]dependentsEntry, 0, len(ids))
				for _, id := range ids {
					r := reports[id]
					e := dependentsEntry{ID: id, Plan: integrity.PlanDeletion(r.Total).String(), Total: r.Total}
					for _, c := range r.Counts {
						e.References = append(e.References, referenceEntry{
							Collection: c.Relationship.DependentCollection,
							Field:      c.Relationship.Field,
							Count:      c.Count,
						})
					}
					entries = append(entries, e)
				}
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				if err := enc.Encode(entries); err != nil {
					return err
				}
				return enc.Close()
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREFERENCE\tCOUNT\tPLAN")
			for _, id := range ids {
				r := reports[id]
				decision := integrity.PlanDeletion(r.Total)
				for _, c := range r.Counts {
					fmt.Fprintf(w, "%s\t%s.%s\t%d\t%s\n",
						id, c.Relationship.DependentCollection, c.Relationship.Field, c.Count, decision)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or yaml")
	return cmd
}
