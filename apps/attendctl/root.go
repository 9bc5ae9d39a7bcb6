package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/services/gateway"
)

type cliApp struct {
	conf   *core.Config
	logger core.Logger

	gw *gateway.Client
}

// gateway returns the backend client, loading any cached credential.
func (app *cliApp) gateway() *gateway.Client {
	if app.gw == nil {
		app.gw = gateway.NewClient(app.conf, app.logger)
		if cred, err := loadCredential(app.conf); err == nil {
			app.gw.SetCredential(cred)
		}
	}
	return app.gw
}

func newRootCmd(app *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "attendctl",
		Short:         "Operator CLI for face-attendance capture",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newLoginCmd(app),
		newCaptureCmd(app),
		newRosterCmd(app),
		newSessionsCmd(app),
	)
	return root
}
