package main

import (
	"fmt"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/auth"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/service"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	flagEmail     string
	flagPassword  string
	flagFirstName string
	flagLastName  string
	flagRoles     []string

	userCmd = &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	userCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a user with the given roles",
		RunE:  runUserCreate,
	}

	userBlockCmd = &cobra.Command{
		Use:   "block-tokens",
		Short: "Block every outstanding token of a user",
		RunE:  runUserBlock,
	}
)

func init() {
	userCreateCmd.Flags().StringVar(&flagEmail, "email", "", "user email, used as the login identity")
	userCreateCmd.Flags().StringVar(&flagPassword, "password", "", "initial password")
	userCreateCmd.Flags().StringVar(&flagFirstName, "first-name", "", "first name")
	userCreateCmd.Flags().StringVar(&flagLastName, "last-name", "", "last name")
	userCreateCmd.Flags().StringSliceVar(&flagRoles, "role", []string{string(models.RoleUser)}, "role to grant, repeatable")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")

	userBlockCmd.Flags().StringVar(&flagEmail, "email", "", "user email")
	_ = userBlockCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userCreateCmd, userBlockCmd)
}

func runUserCreate(cmd *cobra.Command, _ []string) error {
	roles := make([]models.Role, 0, len(flagRoles))
	for _, s := range flagRoles {
		r, err := models.ParseRole(s)
		if err != nil {
			return err
		}
		roles = append(roles, r)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc := service.New(a.log, a.cfg.Auth, a.store, a.store, auth.SystemClock{}, telemetry.Discard())

	user, err := svc.CreateUser(cmd.Context(), service.NewUser{
		Email:     flagEmail,
		Password:  flagPassword,
		FirstName: flagFirstName,
		LastName:  flagLastName,
		Roles:     roles,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) with roles %v\n", user.Email, user.ID, user.Roles)

	return nil
}

func runUserBlock(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc := service.New(a.log, a.cfg.Auth, a.store, a.store, auth.SystemClock{}, telemetry.Discard())

	n, err := svc.BlockAllForUser(cmd.Context(), flagEmail)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "blocked %d tokens of %s\n", n, flagEmail)

	return nil
}
