package oneid

import (
	"context"
	"log"
)

// Notifier delivers activation tokens and reset codes out of band.
type Notifier interface {
	SendActivation(ctx context.Context, email, token string) error
	SendResetCode(ctx context.Context, email, code string) error
}

// ConsoleNotifier is a development implementation that logs messages to console
type ConsoleNotifier struct {
	// ActivationURL, if set, is printed with the token appended as ?token=
	ActivationURL string
}

func (c *ConsoleNotifier) SendActivation(ctx context.Context, email, token string) error {
	log.Printf("\n=== EMAIL: Activation ===")
	log.Printf("To: %s", email)
	log.Printf("Subject: Activate your account")
	if c.ActivationURL != "" {
		log.Printf("Body: Activate your account by clicking: %s?token=%s", c.ActivationURL, token)
	} else {
		log.Printf("Body: Your activation token: %s", token)
	}
	log.Printf("=========================\n")
	return nil
}

func (c *ConsoleNotifier) SendResetCode(ctx context.Context, email, code string) error {
	log.Printf("\n=== EMAIL: Password Reset ===")
	log.Printf("To: %s", email)
	log.Printf("Subject: Reset your password")
	log.Printf("Body: Your password reset code is %s", code)
	log.Printf("==============================\n")
	return nil
}
