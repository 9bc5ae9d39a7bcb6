package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName  string
		Env      string // DEV (default), TEST, QA, PROD
		Build    string
		Debug    bool
		TestMode bool
		DataDir  string

		FromEmail      string
		SendgridApiKey string
		RollbarToken   string

		API    APIConfig
		Kiosk  KioskConfig
		Camera CameraConfig
	}

	// APIConfig points at the school platform's REST backend.
	APIConfig struct {
		BaseURL string
		// Timeout bounds every gateway call. The capture loop relies on it:
		// a hanging recognition request would otherwise hold the
		// single-flight slot forever.
		Timeout         time.Duration
		CaptureInterval time.Duration
		CredentialsFile string
	}

	KioskConfig struct {
		Address         string
		ShutdownTimeout time.Duration
		LockFile        string
		// PinHash is a bcrypt hash; required to close a public session.
		PinHash       string
		SummaryEmails []string
	}

	CameraConfig struct {
		Source      string // "dir" | "mjpeg"
		Dir         string
		StreamURL   string
		MaxEdge     int
		JPEGQuality int
	}
)

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("appName", "Mahudhurio")
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("fromEmail", "noreply@localhost")
	conf.SetDefault("apiBaseUrl", "http://127.0.0.1:8000")
	conf.SetDefault("apiTimeout", 10*time.Second)
	conf.SetDefault("captureInterval", 2*time.Second)
	conf.SetDefault("kioskAddress", ":8380")
	conf.SetDefault("kioskShutdownTimeout", 5*time.Second)
	conf.SetDefault("cameraSource", "dir")
	conf.SetDefault("cameraMaxEdge", 1280)
	conf.SetDefault("cameraJpegQuality", 80)

	env := os.Getenv("ENV")
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	dataDir := conf.GetString("dataDir")
	if dataDir == "" {
		dataDir = filepath.Join(wd, "data")
	}

	return &Config{
		AppName:        conf.GetString("appName"),
		Env:            env,
		Build:          conf.GetString("build"),
		Debug:          conf.GetBool("debug"),
		TestMode:       conf.GetBool("testMode"),
		DataDir:        dataDir,
		FromEmail:      conf.GetString("fromEmail"),
		SendgridApiKey: conf.GetString("sendgridApiKey"),
		RollbarToken:   conf.GetString("rollbarToken"),
		API: APIConfig{
			BaseURL:         strings.TrimRight(conf.GetString("apiBaseUrl"), "/"),
			Timeout:         conf.GetDuration("apiTimeout"),
			CaptureInterval: conf.GetDuration("captureInterval"),
			CredentialsFile: filepath.Join(dataDir, "credentials.json"),
		},
		Kiosk: KioskConfig{
			Address:         conf.GetString("kioskAddress"),
			ShutdownTimeout: conf.GetDuration("kioskShutdownTimeout"),
			LockFile:        filepath.Join(dataDir, "kiosk.lock"),
			PinHash:         conf.GetString("kioskPinHash"),
			SummaryEmails:   conf.GetStringSlice("kioskSummaryEmails"),
		},
		Camera: CameraConfig{
			Source:      conf.GetString("cameraSource"),
			Dir:         conf.GetString("cameraDir"),
			StreamURL:   conf.GetString("cameraStreamUrl"),
			MaxEdge:     conf.GetInt("cameraMaxEdge"),
			JPEGQuality: conf.GetInt("cameraJpegQuality"),
		},
	}
}

// DefaultFromEmail returns the configured sender address.
func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.FromEmail}
}

// JournalPath is the kiosk/CLI session journal database file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}
