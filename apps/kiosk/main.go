// Command kiosk runs the face-attendance capture daemon: it owns the
// camera, drives the capture loop against the school backend and exposes
// a small local HTTP surface for the capture view.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/flock"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/services/camera"
	emailsvc "github.com/trezcool/mahudhurio/services/email"
	"github.com/trezcool/mahudhurio/services/gateway"
	logsvc "github.com/trezcool/mahudhurio/services/logger"
	"github.com/trezcool/mahudhurio/storage/journal"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "KIOSK : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// single kiosk instance per machine; the camera cannot be shared
	if err := os.MkdirAll(conf.DataDir, 0o755); err != nil {
		logger.Fatal(fmt.Sprintf("creating data dir: %v", err), err)
	}
	lock := flock.New(conf.Kiosk.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		logger.Fatal(fmt.Sprintf("acquiring kiosk lock: %v", err), err)
	}
	if !locked {
		logger.Fatal("another kiosk instance is running")
	}
	defer func() { _ = lock.Unlock() }()

	jrnl, err := journal.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening session journal: %v", err), err)
	}
	defer func() {
		if err = jrnl.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing journal: %v", err), err)
		}
	}()

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	gw := gateway.NewClient(conf, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Kiosk initializing : version %q", conf.Build))
	defer logger.Info("Kiosk stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger)

	// =========================================================================
	// Start Kiosk Service

	server := NewServer(ServerDeps{
		Conf:    conf,
		Logger:  logger,
		Gateway: gw,
		NewSource: func() (attendance.FrameSource, error) {
			return camera.New(conf)
		},
		Journal:    jrnl,
		MailSvc:    mailSvc,
		Validate:   validate,
		Translator: translator,
	})
	server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Kiosk.ShutdownTimeout)
		defer cancel()

		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
