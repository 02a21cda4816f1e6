package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/reflink/store"
)

func (a *app) seedCmd() *cobra.Command {
	var (
		avatars    int
		categories int
		challenges int
		users      int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the store with sample data",
		Long: `Populate the store with sample avatars, categories, challenges and users.

Challenges reference avatars and categories round-robin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if avatars < 1 || categories < 1 {
				return userError{fmt.Errorf("seed needs at least one avatar and one category")}
			}
			ctx := cmd.Context()
			now := time.Now().UTC()

			put := func(collection string, i int, fields map[string]any) (string, error) {
				id := uuid.NewString()
				err := a.backend.Put(ctx, &store.Document{
					ID:         id,
					Collection: collection,
					CreatedAt:  now.Add(time.Duration(i) * time.Millisecond),
					Fields:     fields,
				})
				if err != nil {
					return "", fmt.Errorf("seed %s: %w", collection, err)
				}
				return id, nil
			}

			avatarIDs := make([]string, avatars)
			for i := range avatarIDs {
				id, err := put("avatars", i, map[string]any{"name": fmt.Sprintf("Avatar %d", i+1)})
				if err != nil {
					return err
				}
				avatarIDs[i] = id
			}

			categoryIDs := make([]string, categories)
			for i := range categoryIDs {
				id, err := put("categories", i, map[string]any{"name": fmt.Sprintf("Category %d", i+1)})
				if err != nil {
					return err
				}
				categoryIDs[i] = id
			}

			for i := 0; i < challenges; i++ {
				_, err := put("challenges", i, map[string]any{
					"title":       fmt.Sprintf("Challenge %d", i+1),
					"avatar":      avatarIDs[i%avatars],
					"category_id": categoryIDs[i%categories],
				})
				if err != nil {
					return err
				}
			}

			for i := 0; i < users; i++ {
				_, err := put("users", i, map[string]any{"email": fmt.Sprintf("rep%d@example.com", i+1)})
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(a.out, "Seeded %d avatars, %d categories, %d challenges, %d users\n",
				avatars, categories, challenges, users)
			return nil
		},
	}

	cmd.Flags().IntVar(&avatars, "avatars", 3, "avatars to create")
	cmd.Flags().IntVar(&categories, "categories", 3, "categories to create")
	cmd.Flags().IntVar(&challenges, "challenges", 12, "challenges to create")
	cmd.Flags().IntVar(&users, "users", 30, "users to create")
	return cmd
}
