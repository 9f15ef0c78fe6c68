package config

// Log levels accepted by appendLog and stored on JobLog rows.
var AllowedLogLevels = []string{"info", "warn", "error"}

var (
	AllowedQueues   = []string{"default", "email", "webhooks", "payment"}
	AllowedJobTypes = []string{"send_email", "process_payment", "send_webhook"}
)
