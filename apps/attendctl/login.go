package main

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var readPasswordFunc = term.ReadPassword // mockable

func newLoginCmd(app *cliApp) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the school backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}

			fmt.Print("Enter password:")
			pwd, err := readPasswordFunc(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return err
			}
			if len(pwd) == 0 {
				return errors.New("empty password")
			}

			cred, err := app.gateway().Login(cmd.Context(), email, string(pwd))
			if err != nil {
				return errors.Wrap(err, "login failed")
			}
			if err = saveCredential(app.conf, cred); err != nil {
				return err
			}

			fmt.Printf("Logged in as %s (%s)\n", cred.Subject, cred.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "The operator's email. The password will be prompted next.")
	return cmd
}
