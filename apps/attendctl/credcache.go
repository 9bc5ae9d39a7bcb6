package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/user"
)

// The credential cache keeps the operator logged in across invocations.
// Mode 0600: the file holds a live bearer token.

func saveCredential(conf *core.Config, cred user.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding credential")
	}
	path := conf.API.CredentialsFile
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating data dir")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "writing credential cache")
}

func loadCredential(conf *core.Config) (user.Credential, error) {
	data, err := os.ReadFile(conf.API.CredentialsFile)
	if err != nil {
		return user.Credential{}, errors.Wrap(err, "reading credential cache")
	}
	var cred user.Credential
	if err = json.Unmarshal(data, &cred); err != nil {
		return user.Credential{}, errors.Wrap(err, "decoding credential cache")
	}
	return cred, nil
}
