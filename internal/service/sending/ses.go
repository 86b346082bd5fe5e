package sending

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SESConfig configures the SES transport.
type SESConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string
	From             string
	ConfigurationSet string
}

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends emails via AWS SES using the SDK v2.
type SESTransport struct {
	cfg    SESConfig
	client SESAPI
}

// NewSESTransport creates an SES transport. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewSESTransport(ctx context.Context, cfg SESConfig) (*SESTransport, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESTransport{cfg: cfg, client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewSESTransportWithClient wraps an existing client.
func NewSESTransportWithClient(cfg SESConfig, client SESAPI) *SESTransport {
	return &SESTransport{cfg: cfg, client: client}
}

// Account returns the verified From identity.
func (t *SESTransport) Account() string { return t.cfg.From }

// Ready reports whether the transport has a client and a sender identity.
func (t *SESTransport) Ready(ctx context.Context) error {
	if t.client == nil || t.cfg.From == "" {
		return unavailable("ses not configured")
	}
	return nil
}

// Send delivers a single email through AWS SES.
func (t *SESTransport) Send(ctx context.Context, env *Envelope) (*Result, error) {
	if t.client == nil {
		return nil, unavailable("ses not configured")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From.String()),
		Destination:      &types.Destination{ToAddresses: []string{env.To.String()}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(env.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(env.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("message_id"), Value: aws.String(env.MessageID)},
		},
	}
	if env.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(env.Text), Charset: aws.String("UTF-8")}
	}
	if t.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(t.cfg.ConfigurationSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, err
	}

	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses message accepted", "component", "ses", "to_email", env.To.Address, "message_id", messageID)
	return &Result{TransportMessageID: messageID}, nil
}
