package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoReservationMirror keeps one item per reservation. A write older than the
// stored item is dropped so retried tasks cannot roll a row back.
type DynamoReservationMirror struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ ReservationMirror = (*DynamoReservationMirror)(nil)

func NewDynamoReservationMirror(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoReservationMirror {
	if client == nil {
		panic("mirror: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("mirror: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoReservationMirror{client: client, tableName: tableName, logger: logger}
}

func (m *DynamoReservationMirror) UpsertReservation(ctx context.Context, fields ReservationFields) error {
	if fields.ReserveID == "" {
		return errors.New("mirror: reserveId required")
	}
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return fmt.Errorf("mirror: failed to marshal reservation: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(reserveId) OR #updatedAt <= :updatedAt"),
		ExpressionAttributeNames: map[string]string{
			"#updatedAt": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":updatedAt": &types.AttributeValueMemberS{Value: fields.UpdatedAt},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			m.logger.Debug("skipping stale reservation mirror write", "reserve_id", fields.ReserveID, "updated_at", fields.UpdatedAt)
			return nil
		}
		return fmt.Errorf("mirror: failed to put reservation %s: %w", fields.ReserveID, err)
	}
	return nil
}
