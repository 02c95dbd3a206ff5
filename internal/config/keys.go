package config

import (
	"net/url"
	"os"
)

// SecretSource represents where a secret comes from.
type SecretSource string

const (
	SourceEnv    SecretSource = "env"
	SourceConfig SecretSource = "config"
	SourceNone   SecretSource = "none"
)

// SecretStatus represents the status of a credential-bearing setting.
type SecretStatus struct {
	Name   string       `json:"name"`
	Source SecretSource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "postgres://user:xxxxx@db/cvm"
}

// CheckSecrets returns the status of every credential-bearing setting.
func CheckSecrets(cfg *Config) []SecretStatus {
	return []SecretStatus{
		checkSecret("Database URL", cfg.Database.URL, maskURL, EnvPrefix+"_DATABASE_URL", "DATABASE_URL"),
	}
}

// checkSecret checks if a value is set and where it came from.
func checkSecret(name, value string, mask func(string) string, envVars ...string) SecretStatus {
	status := SecretStatus{
		Name:   name,
		IsSet:  value != "",
		Source: SourceNone,
	}
	if value == "" {
		return status
	}

	status.Source = SourceConfig
	for _, env := range envVars {
		if os.Getenv(env) == value {
			status.Source = SourceEnv
			break
		}
	}
	status.Masked = mask(value)
	return status
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return maskKey(raw)
	}
	return u.Redacted()
}

// maskKey masks a secret for display, showing only first 3 and last 3 chars.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}
