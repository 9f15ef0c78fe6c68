package dto

import "encoding/json"

// Typed parameter schemas for the built-in job types. The registry unmarshals
// a job's raw parameters into one of these and validates it before the
// handler runs.

// SendEmailPayload is the parameter schema for send_email jobs.
type SendEmailPayload struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// ProcessPaymentPayload is the parameter schema for process_payment jobs.
type ProcessPaymentPayload struct {
	PaymentID string  `json:"payment_id" validate:"required"`
	UserID    string  `json:"user_id" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Currency  string  `json:"currency" validate:"required,len=3"`
	Method    string  `json:"method" validate:"required,oneof=card upi netbanking wallet"`
}

// SendWebhookPayload is the parameter schema for send_webhook jobs.
// Timeout is the simulated delivery delay in milliseconds.
type SendWebhookPayload struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method" validate:"required,oneof=POST PUT PATCH"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body" validate:"required"`
	Timeout int               `json:"timeout" validate:"gte=1,lte=30"`
}
