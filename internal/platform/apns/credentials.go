package apns

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Config holds what is needed to authenticate against APNs. Either CertFile
// (.p12 or .pem) or KeyFile (.p8) with KeyID and TeamID must be set.
type Config struct {
	Environment  string
	CertFile     string
	CertPassword string
	KeyFile      string
	KeyID        string
	TeamID       string
	// Topic is the app bundle ID (e.g. com.tinywide.messenger).
	Topic       string
	Concurrency int
}

// Credentials are the parsed, validated form of Config. They are loaded once
// at startup and shared by every Client.
type Credentials struct {
	Environment string
	Topic       string
	Concurrency int

	certificate *tls.Certificate
	token       *token.Token
}

// LoadCredentials validates cfg and parses the key material immediately so a
// bad deployment fails on startup.
func LoadCredentials(cfg Config) (*Credentials, error) {
	env := strings.ToLower(cfg.Environment)
	if env != EnvironmentSandbox && env != EnvironmentProduction {
		return nil, &dispatch.ConfigError{Field: "apple.environment", Reason: fmt.Sprintf("must be %q or %q, got %q", EnvironmentSandbox, EnvironmentProduction, cfg.Environment)}
	}
	if cfg.Topic == "" {
		return nil, &dispatch.ConfigError{Field: "apple.topic", Reason: "bundle id is required"}
	}

	creds := &Credentials{Environment: env, Topic: cfg.Topic, Concurrency: cfg.Concurrency}
	if creds.Concurrency <= 0 {
		creds.Concurrency = DefaultConcurrency
	}

	switch {
	case cfg.CertFile != "":
		if err := requireFile("apple.cert_file", cfg.CertFile); err != nil {
			return nil, err
		}
		cert, err := loadCertificate(cfg.CertFile, cfg.CertPassword)
		if err != nil {
			return nil, &dispatch.ConfigError{Field: "apple.cert_file", Reason: err.Error()}
		}
		creds.certificate = &cert

	case cfg.KeyFile != "":
		if err := requireFile("apple.key_file", cfg.KeyFile); err != nil {
			return nil, err
		}
		if cfg.KeyID == "" || cfg.TeamID == "" {
			return nil, &dispatch.ConfigError{Field: "apple.key_id", Reason: "key_id and team_id are required with key_file"}
		}
		authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
		if err != nil {
			return nil, &dispatch.ConfigError{Field: "apple.key_file", Reason: fmt.Sprintf("failed to parse APNs P8 key: %v", err)}
		}
		creds.token = &token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID}

	default:
		return nil, &dispatch.ConfigError{Field: "apple.cert_file", Reason: "a certificate or a .p8 key is required"}
	}
	return creds, nil
}

// UsesToken reports whether the credentials are token (.p8) based.
func (c *Credentials) UsesToken() bool { return c.token != nil }

func loadCertificate(path, password string) (tls.Certificate, error) {
	if strings.EqualFold(filepath.Ext(path), ".p12") {
		return certificate.FromP12File(path, password)
	}
	return certificate.FromPemFile(path, password)
}

func requireFile(field, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &dispatch.ConfigError{Field: field, Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	if info.IsDir() {
		return &dispatch.ConfigError{Field: field, Reason: path + " is a directory"}
	}
	return nil
}
