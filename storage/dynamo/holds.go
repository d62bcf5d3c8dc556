package dynamo

import (
	"context"
	"fmt"

	"collabflow/escrow"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func (s *Store) GetHold(ctx context.Context, collaborationID string) (escrow.Hold, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Holds),
		Key:            stringKey("collaboration_id", collaborationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return escrow.Hold{}, fmt.Errorf("dynamo: get hold: %w", err)
	}
	if len(out.Item) == 0 {
		return escrow.Hold{}, escrow.ErrNoHold
	}
	var it holdItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return escrow.Hold{}, fmt.Errorf("dynamo: unmarshal hold: %w", err)
	}
	return fromHoldItem(it)
}

func (s *Store) PutHold(ctx context.Context, h escrow.Hold) error {
	av, err := attributevalue.MarshalMap(toHoldItem(h))
	if err != nil {
		return fmt.Errorf("dynamo: marshal hold: %w", err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tables.Holds), Item: av}); err != nil {
		return fmt.Errorf("dynamo: put hold: %w", err)
	}
	return nil
}
