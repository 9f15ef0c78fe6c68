// Package handlers registers the built-in job types. Each handler shows the
// expected shape: typed parameters, cancellation checks at safe points, and
// progress/log emission through the JobContext.
package handlers

import (
	"fmt"
	"time"

	"github.com/michaelayoade/dotmac-jobs/internal/dto"
	"github.com/michaelayoade/dotmac-jobs/internal/runner"
)

// RegisterAll wires the built-in job types onto the registry.
func RegisterAll(r *runner.Registry) {
	runner.Register(r, "send_email", SendEmail)
	runner.Register(r, "process_payment", ProcessPayment, runner.WithMaxRetries(5))
	runner.Register(r, "send_webhook", SendWebhook, runner.WithTimeout(30*time.Second))
}

// SendEmail simulates sending an email
func SendEmail(ctx *runner.JobContext, email dto.SendEmailPayload) (any, error) {
	ctx.Infof("sending email to %s", email.To)

	// Simulate email sending delay
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx.SetProgress(100)
	ctx.Infof("sent email to %s: %s", email.To, email.Subject)

	return map[string]any{
		"to":         email.To,
		"subject":    email.Subject,
		"sent_at":    time.Now().Format(time.RFC3339),
		"message_id": fmt.Sprintf("msg_%d", time.Now().Unix()),
	}, nil
}

// ProcessPayment simulates payment processing
func ProcessPayment(ctx *runner.JobContext, payment dto.ProcessPaymentPayload) (any, error) {
	ctx.Infof("processing payment %s (%.2f %s)", payment.PaymentID, payment.Amount, payment.Currency)
	ctx.SetProgress(10)

	// Simulate payment gateway delay
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx.SetProgress(100)
	ctx.Infof("processed payment %s", payment.PaymentID)

	return map[string]any{
		"payment_id":     payment.PaymentID,
		"status":         "completed",
		"amount":         payment.Amount,
		"currency":       payment.Currency,
		"transaction_id": fmt.Sprintf("txn_%d", time.Now().Unix()),
		"processed_at":   time.Now().Format(time.RFC3339),
	}, nil
}

// SendWebhook sends an HTTP webhook
func SendWebhook(ctx *runner.JobContext, webhook dto.SendWebhookPayload) (any, error) {
	ctx.Infof("delivering webhook to %s", webhook.URL)

	// Simulate network delay
	delay := time.Duration(webhook.Timeout) * time.Millisecond
	select {
	case <-time.After(delay):
		// Simulated successful response
	case <-ctx.Done():
		return nil, fmt.Errorf("webhook cancelled or timeout: %w", ctx.Err())
	}

	ctx.SetProgress(100)
	ctx.Infof("delivered webhook to %s", webhook.URL)

	return map[string]any{
		"url":          webhook.URL,
		"method":       webhook.Method,
		"status_code":  200,
		"response":     fmt.Sprintf("Simulated payload: %s", string(webhook.Body)),
		"delivered_at": time.Now().Format(time.RFC3339),
	}, nil
}
