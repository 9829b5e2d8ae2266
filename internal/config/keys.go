package config

import "os"

// SecretSource represents where a secret comes from.
type SecretSource string

const (
	SecretSourceEnv    SecretSource = "env"
	SecretSourceConfig SecretSource = "config"
	SecretSourceNone   SecretSource = "none"
)

// SecretStatus represents the status of a credential or private endpoint.
type SecretStatus struct {
	Name   string       `json:"name"`
	Source SecretSource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "pos...ata"
}

// CheckSecrets returns the status of every secret the pipeline may use.
func CheckSecrets(cfg *Config) []SecretStatus {
	return []SecretStatus{
		checkSecret("Postgres DSN", cfg.Store.PostgresDSN, "REPORTALPHA_POSTGRES_DSN"),
		checkSecret("Sentiment API Key", cfg.Sentiment.APIKey, "SENTIMENT_API_KEY"),
		checkSecret("Sentiment Endpoint", cfg.Sentiment.Endpoint, "REPORTALPHA_SENTIMENT_ENDPOINT"),
		checkSecret("Webhook URL", cfg.Notify.WebhookURL, "FEISHU_WEBHOOK_URL"),
	}
}

func checkSecret(name, value, envVar string) SecretStatus {
	status := SecretStatus{
		Name:  name,
		IsSet: value != "",
	}

	if value == "" {
		status.Source = SecretSourceNone
		return status
	}
	if os.Getenv(envVar) != "" {
		status.Source = SecretSourceEnv
	} else {
		status.Source = SecretSourceConfig
	}
	status.Masked = maskSecret(value)
	return status
}

// maskSecret shows only the first 3 and last 3 chars.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:3] + "..." + s[len(s)-3:]
}
