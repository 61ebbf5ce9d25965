package security

import "strings"

// sensitiveEnvPatterns match (case-insensitively, as substrings) variable
// names that carry credentials. The sandbox builds plugin environments
// from scratch, so nothing leaks by default; this list exists to refuse
// explicit passthrough of anything credential-shaped.
var sensitiveEnvPatterns = []string{
	// API keys and authentication credentials
	"API_KEY",
	"APIKEY",
	"SECRET",
	"PASSWORD",
	"PASSWD",
	"TOKEN",
	"AUTH",
	"CREDENTIALS",
	"PRIVATE_KEY",
	"PRIV_KEY",

	// Cloud providers
	"AWS_ACCESS_KEY",
	"AWS_SESSION",
	"AZURE_",
	"GCP_",
	"GOOGLE_API",
	"GOOGLE_APPLICATION_CREDENTIALS",

	// Databases
	"DB_PASS",
	"DATABASE_URL", // DSNs routinely embed passwords
	"PG_PASS",
	"PGPASSWORD",
	"REDIS_PASS",
	"MYSQL_PASS",

	// Encryption and signing
	"ENCRYPTION_KEY",
	"SIGNING_KEY",
	"CIPHER_KEY",

	// Session material held by the parent process
	"SSH_AUTH_SOCK",
	"GPG_AGENT_INFO",

	// AI providers (the assistant's own credentials above all)
	"GEMINI_API_KEY",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"HUGGINGFACE_TOKEN",
	"HF_TOKEN",
}

// IsSensitiveEnvName reports whether an environment variable name looks
// like it carries a credential. Matching is by uppercase substring, so
// MY_SERVICE_API_KEY and api_key both match.
func IsSensitiveEnvName(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
