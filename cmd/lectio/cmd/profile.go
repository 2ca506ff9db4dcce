package cmd

import (
	"context"
	"fmt"

	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Read or edit profile documents",
}

var profileGetCmd = &cobra.Command{
	Use:   "get [uid]",
	Short: "Print a profile document (the signed-in one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			uid := ""
			if len(args) == 1 {
				uid = args[0]
			} else if current := a.manager.CurrentIdentity(); current != nil {
				uid = current.UID
			} else {
				return serrors.New(serrors.CodeUnauthenticated, nil)
			}

			profile, err := a.manager.GetProfile(ctx, uid)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), profile)
		})
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Merge fields into the signed-in profile",
	Long: `Merge fields into the signed-in identity's profile document. Nested
fields use dots: notifications.daily=false. uid and createdAt cannot be changed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.manager.UpdateCurrentProfile(ctx, fields); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile updated.")
			if profile := a.manager.State().Profile; profile != nil {
				return printYAML(cmd.OutOrStdout(), profile)
			}
			return nil
		})
	},
}

func init() {
	profileCmd.AddCommand(profileGetCmd, profileSetCmd)
	rootCmd.AddCommand(profileCmd)
}
