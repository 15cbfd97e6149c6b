// Package notify builds the end-of-conversation report and delivers it by
// email.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// ErrNotConfigured is returned when sender or recipient is missing.
var ErrNotConfigured = errors.New("email sender and recipient must be configured")

// Email is a plain-text message.
type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends through Amazon SES.
type SESMailer struct {
	api SESAPI
}

// NewSESMailer wraps an SES client.
func NewSESMailer(api SESAPI) *SESMailer {
	return &SESMailer{api: api}
}

// Send delivers e as a simple text message.
func (m *SESMailer) Send(ctx context.Context, e Email) error {
	if e.From == "" || e.To == "" {
		return ErrNotConfigured
	}
	_, err := m.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.From),
		Destination:      &types.Destination{ToAddresses: []string{e.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(e.Subject)},
				Body:    &types.Body{Text: &types.Content{Data: aws.String(e.Body)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
