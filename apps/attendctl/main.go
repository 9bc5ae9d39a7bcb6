// Command attendctl is the operator CLI for the face-attendance flow:
// log in, run a capture session from a terminal, inspect rosters and the
// local session journal.
package main

import (
	"log"
	"os"

	"github.com/trezcool/mahudhurio/core"
	logsvc "github.com/trezcool/mahudhurio/services/logger"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "CTL : ", log.LstdFlags),
		conf,
	)
	logger.Enable(!conf.Debug)

	app := &cliApp{conf: conf, logger: logger}
	if err := newRootCmd(app).Execute(); err != nil {
		os.Exit(1)
	}
}
