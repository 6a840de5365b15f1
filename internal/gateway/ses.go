package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// SESSender delivers through AWS SES using the SDK v2 SendEmail API.
type SESSender struct {
	client *sesv2.Client
}

// NewSESSender initializes the SES client from static credentials. Returns
// nil when credentials are absent so the router treats SES as unconfigured.
func NewSESSender(accessKey, secretKey, region string) *SESSender {
	if accessKey == "" || secretKey == "" {
		return nil
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		log.Printf("[SES] failed to initialize AWS config: %v", err)
		return nil
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg)}
}

func (s *SESSender) Send(ctx context.Context, mailbox *domain.Mailbox, msg *Message) (*Result, error) {
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("ses send: %v", err)}, nil
	}
	return &Result{Success: true, ProviderMessageID: aws.ToString(out.MessageId)}, nil
}
