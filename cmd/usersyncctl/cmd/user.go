package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/services"
	"gopkg.in/yaml.v3"
)

// userView is the YAML rendering of a user.
type userView struct {
	ID         string    `yaml:"id"`
	Email      string    `yaml:"email"`
	Name       string    `yaml:"name"`
	Picture    string    `yaml:"picture,omitempty"`
	ExternalID string    `yaml:"externalId"`
	UID        string    `yaml:"uid"`
	CreatedAt  time.Time `yaml:"createdAt,omitempty"`
	UpdatedAt  time.Time `yaml:"updatedAt,omitempty"`
}

func newUserView(u *domain.User) userView {
	return userView{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Picture:    u.Picture,
		ExternalID: u.ExternalID,
		UID:        u.UID,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func (c *cli) userCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:     "user",
		Short:   "Look up and reconcile users",
		Aliases: []string{"users"},
	}
	userCmd.AddCommand(c.userGetCmd(), c.userSyncCmd())
	return userCmd
}

func (c *cli) userGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get EMAIL",
		Short: "Get a user by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := c.backends.OpenStore(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			user, err := services.NewLookupService(store).GetUserByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("no user with email %q", args[0])
			}

			out, err := yaml.Marshal(newUserView(user))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func (c *cli) userSyncCmd() *cobra.Command {
	var claims domain.Claims

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile an identity into the user store",
		Long: `Creates the user for the identity if none exists with its email, or corrects
a drifted name or email. Missing email falls back to the subject id and
missing names to "User".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if claims.SubjectID == "" {
				return errors.New("subject is required via --subject flag")
			}

			ctx := cmd.Context()
			store, closeStore, err := c.backends.OpenStore(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			user, action, err := services.NewReconcileService(store, nil).Sync(ctx, claims)
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}

			out, err := yaml.Marshal(struct {
				Action string   `yaml:"action"`
				User   userView `yaml:"user"`
			}{string(action), newUserView(user)})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&claims.SubjectID, "subject", "", "identity provider subject id")
	cmd.Flags().StringVar(&claims.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&claims.GivenName, "given-name", "", "given name claim")
	cmd.Flags().StringVar(&claims.FamilyName, "family-name", "", "family name claim")
	cmd.Flags().StringVar(&claims.AvatarURL, "picture", "", "avatar URL claim")

	return cmd
}
