package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pilab-dev/lectio/domain"
	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/spf13/cobra"
)

var (
	authEmail       string
	registerName    string
	registerFields  []string
	resetToken      string
	passwordConfirm bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Long: `Create an account and its profile document, then sign in.
Extra profile fields are given as key=value, e.g. --field country=AR --field notifications.daily=true.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fields, err := parseFields(registerFields)
		if err != nil {
			return err
		}

		in := bufio.NewReader(os.Stdin)
		password, err := readPassword("Password: ", in)
		if err != nil {
			return err
		}
		if passwordConfirm {
			again, err := readPassword("Repeat password: ", in)
			if err != nil {
				return err
			}
			if again != password {
				return errors.New("passwords do not match")
			}
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			identity, err := a.manager.Register(ctx, authEmail, password, registerName, fields)
			if identity != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Account created for %s (uid %s).\n", identity.Email, identity.UID)
			}
			var authErr *serrors.AuthError
			if errors.As(err, &authErr) && authErr.Kind == serrors.KindProfileWriteFailed {
				fmt.Fprintln(cmd.ErrOrStderr(), authErr.Message)
				return nil
			}
			return err
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and keep the session for later commands",
	RunE: func(cmd *cobra.Command, _ []string) error {
		password, err := readPassword("Password: ", bufio.NewReader(os.Stdin))
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			identity, err := a.manager.Login(ctx, authEmail, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", displayName(identity))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the saved session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if !a.manager.IsAuthenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return nil
			}
			if err := a.manager.Logout(ctx); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "The session was cleared locally.")
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity and its profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if !a.manager.IsAuthenticated() {
				return serrors.New(serrors.CodeUnauthenticated, nil)
			}
			if err := a.manager.ReloadProfile(ctx); err != nil {
				a.logger.Warn(ctx, "Profile unavailable", map[string]any{"error": err.Error()})
			}
			return printYAML(cmd.OutOrStdout(), a.manager.State())
		})
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Send a password reset email",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.manager.RequestPasswordReset(ctx, authEmail); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "A reset link was sent to %s.\n", authEmail)
			return nil
		})
	},
}

var resetPasswordConfirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Set a new password with the token from the reset email",
	RunE: func(cmd *cobra.Command, _ []string) error {
		password, err := readPassword("New password: ", bufio.NewReader(os.Stdin))
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.provider.ConfirmPasswordReset(ctx, resetToken, password); err != nil {
				return serrors.FromError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated. Sign in with the new password.")
			return nil
		})
	},
}

func displayName(identity *domain.Identity) string {
	if identity.DisplayName != "" {
		return fmt.Sprintf("%s <%s>", identity.DisplayName, identity.Email)
	}
	return identity.Email
}

func init() {
	registerCmd.Flags().StringVar(&authEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&registerName, "name", "", "display name")
	registerCmd.Flags().StringArrayVar(&registerFields, "field", nil, "extra profile field as key=value (repeatable)")
	registerCmd.Flags().BoolVar(&passwordConfirm, "confirm", true, "ask for the password twice")
	_ = registerCmd.MarkFlagRequired("email")

	loginCmd.Flags().StringVar(&authEmail, "email", "", "account email")
	_ = loginCmd.MarkFlagRequired("email")

	resetPasswordCmd.Flags().StringVar(&authEmail, "email", "", "account email")
	_ = resetPasswordCmd.MarkFlagRequired("email")

	resetPasswordConfirmCmd.Flags().StringVar(&resetToken, "token", "", "token from the reset email")
	_ = resetPasswordConfirmCmd.MarkFlagRequired("token")

	resetPasswordCmd.AddCommand(resetPasswordConfirmCmd)
	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, resetPasswordCmd)
}
