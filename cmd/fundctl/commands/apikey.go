package commands

import (
	"crypto/rand"
	"fmt"

	"github.com/rpggio/escrowfund/internal/sqlite"
	"github.com/spf13/cobra"
)

func apikeyCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage operator API keys",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "escrowfund.db", "server database path")

	var operator, description, token string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an API key for an operator and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd, dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if token == "" {
				token = "ef_" + rand.Text()
			}
			if err := sqlite.NewAPIKeyRepository(db).Add(cmd.Context(), token, operator, description); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	add.Flags().StringVar(&operator, "operator", "", "operator identity the key authenticates as")
	add.Flags().StringVar(&description, "description", "", "free-form note")
	add.Flags().StringVar(&token, "token", "", "use this token instead of generating one")
	_ = add.MarkFlagRequired("operator")

	var revokeToken string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd, dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := sqlite.NewAPIKeyRepository(db).Revoke(cmd.Context(), revokeToken); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "revoked")
			return nil
		},
	}
	revoke.Flags().StringVar(&revokeToken, "token", "", "token to revoke")
	_ = revoke.MarkFlagRequired("token")

	cmd.AddCommand(add, revoke)
	return cmd
}

func openDB(cmd *cobra.Command, path string) (*sqlite.DB, error) {
	db, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(cmd.Context()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}
