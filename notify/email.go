package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// emailSender is the subset of *sesv2.Client used here.
type emailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailNotifier sends notifications through Amazon SES. Each audience maps
// to a list of recipient addresses; audiences with no recipients are skipped.
type EmailNotifier struct {
	client     emailSender
	from       string
	recipients map[string][]string
}

// NewEmailNotifier loads the default AWS configuration for region and
// returns an SES-backed notifier.
func NewEmailNotifier(ctx context.Context, region, from string, recipients map[string][]string) (*EmailNotifier, error) {
	if from == "" {
		return nil, fmt.Errorf("email notifier: from address is required")
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &EmailNotifier{
		client:     sesv2.NewFromConfig(awsCfg),
		from:       from,
		recipients: recipients,
	}, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, audience, title string, metadata map[string]any) error {
	to := n.recipients[audience]
	if len(to) == 0 {
		return nil
	}

	_, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: to,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(title)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(formatBody(title, metadata))},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sending email to %s: %w", audience, err)
	}
	return nil
}
