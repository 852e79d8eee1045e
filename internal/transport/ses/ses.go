// Package ses implements a Transport that sends email via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mail-relay/internal/email"
)

// ErrSendingDisabled is returned by Verify when the SES account cannot send.
var ErrSendingDisabled = errors.New("SES sending is disabled for this account")

// Config holds the configuration for creating a Transport.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the SES v2 client used by Transport.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Transport sends messages through the SES v2 SendEmail API.
type Transport struct {
	client API
}

// New creates a Transport from the default AWS credential chain, overridden
// by static credentials when both keys are set.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Transport{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Transport around an existing client.
func NewWithClient(client API) *Transport {
	return &Transport{client: client}
}

// Send delivers msg and returns the message ID assigned by SES.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (string, error) {
	out, err := t.client.SendEmail(ctx, buildInput(msg))
	if err != nil {
		return "", fmt.Errorf("SES send failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Verify checks that the credentials are valid and the account may send.
func (t *Transport) Verify(ctx context.Context) error {
	out, err := t.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return fmt.Errorf("SES account check failed: %w", err)
	}
	if !out.SendingEnabled {
		return ErrSendingDisabled
	}
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "ses"
}

// buildInput creates a simple-content SendEmailInput. The text part is always
// present, even when empty, so HTML-less messages still carry a body.
func buildInput(msg *email.Message) *sesv2.SendEmailInput {
	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		},
	}
	if msg.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: msg.Recipients(),
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}
