package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSReservationFeed publishes reservation changes for downstream readers.
// FIFO queues are grouped by reservation so a reader sees one reservation's
// changes in order.
type SQSReservationFeed struct {
	client   sqsAPI
	queueURL string
	fifo     bool
}

var _ ReservationFeed = (*SQSReservationFeed)(nil)

func NewSQSReservationFeed(client sqsAPI, queueURL string) *SQSReservationFeed {
	if client == nil {
		panic("mirror: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("mirror: SQS queueURL cannot be empty")
	}
	return &SQSReservationFeed{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

func (f *SQSReservationFeed) Publish(ctx context.Context, fields ReservationFields) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("mirror: marshal feed message: %w", err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(f.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"change": {DataType: aws.String("String"), StringValue: aws.String(string(fields.Change))},
		},
	}
	if f.fifo {
		input.MessageGroupId = aws.String(fields.ReserveID)
		input.MessageDeduplicationId = aws.String(fields.ReserveID + ":" + fields.UpdatedAt)
	}
	if _, err := f.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("mirror: failed to send SQS message: %w", err)
	}
	return nil
}
