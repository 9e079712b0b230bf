package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/bidhouse/internal/config"
	"github.com/keyxmakerx/bidhouse/internal/database"
	"github.com/keyxmakerx/bidhouse/internal/plugins/auth"
)

// NewOperatorCmd creates the operator subcommand. Operators cannot sign up
// publicly unless ALLOW_OPERATOR_SIGNUP is on, so the first one is created
// here.
func NewOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage marketplace operator accounts",
	}
	cmd.AddCommand(newOperatorCreateCmd())
	return cmd
}

func newOperatorCreateCmd() *cobra.Command {
	var (
		input       auth.CreateOperatorInput
		passwordEnv string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a verified operator account",
		Long: `Create a verified operator account that can sign in immediately.
The password is read from the environment variable named by --password-env
so it does not end up in shell history.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input.Password = os.Getenv(passwordEnv)
			valid, err := auth.ValidateOperatorInput(input)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result, err := createOperator(ctx, valid)
			if err != nil {
				return err
			}
			cmd.Printf("operator %s created (id %s)\n", result.User.Email, result.User.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&input.Email, "email", "", "operator email address")
	cmd.Flags().StringVar(&input.FullName, "name", "", "operator full name")
	cmd.Flags().StringVar(&input.Contact, "contact", "", "operator phone number")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "BIDHOUSE_OPERATOR_PASSWORD", "environment variable holding the password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("contact")
	return cmd
}

// createOperator connects to MariaDB and writes the account. No mail is
// sent and no Redis connection is needed.
func createOperator(ctx context.Context, input auth.CreateOperatorInput) (*auth.Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg)

	db, err := database.NewMariaDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to MariaDB: %w", err)
	}
	defer db.Close()

	svc := auth.NewOperatorService(auth.Deps{
		Store:  auth.NewStore(db),
		Hasher: auth.NewArgon2Hasher(),
	})
	return svc.CreateOperator(ctx, input)
}
