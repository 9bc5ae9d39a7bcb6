package user

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Kiosk PIN. A public (unauthenticated) capture session can only be closed
// by whoever knows the kiosk PIN; the hash lives in config, never the PIN.

func HashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hashing pin")
	}
	return string(hash), nil
}

func CheckPin(hash, pin string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return errors.Wrap(err, "pin mismatch")
	}
	return nil
}
