package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) sessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:     "session",
		Short:   "Inspect mirrored sessions",
		Aliases: []string{"sessions"},
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "user SESSION_ID",
		Short: "Show the resolved user mirrored for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mirror, closeMirror, err := c.backends.OpenMirror(c.cfg)
			if err != nil {
				return err
			}
			defer closeMirror()

			user, err := mirror.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("no resolved user mirrored for session %q", args[0])
			}

			out, err := yaml.Marshal(newUserView(user))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return sessionCmd
}
