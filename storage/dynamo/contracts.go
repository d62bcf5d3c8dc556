package dynamo

import (
	"context"
	"fmt"
	"time"

	"collabflow/contract"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func (s *Store) GetContract(ctx context.Context, collaborationID string) (contract.Contract, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Contracts),
		Key:            stringKey("collaboration_id", collaborationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return contract.Contract{}, fmt.Errorf("dynamo: get contract: %w", err)
	}
	if len(out.Item) == 0 {
		return contract.Contract{}, contract.ErrNotFound
	}
	var it contractItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return contract.Contract{}, fmt.Errorf("dynamo: unmarshal contract: %w", err)
	}
	return fromContractItem(it), nil
}

func (s *Store) UpsertContract(ctx context.Context, c contract.Contract) error {
	av, err := attributevalue.MarshalMap(toContractItem(c))
	if err != nil {
		return fmt.Errorf("dynamo: marshal contract: %w", err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tables.Contracts), Item: av}); err != nil {
		return fmt.Errorf("dynamo: put contract: %w", err)
	}
	return nil
}

// RecordSignature reserves the idempotency key and stamps the signature in
// one transaction. The first signature per party wins.
func (s *Store) RecordSignature(ctx context.Context, collaborationID string, party contract.Party, signedAt time.Time, idempotencyKey string) (contract.Contract, error) {
	var column string
	switch party {
	case contract.PartyBrand:
		column = "brand_signed_at"
	case contract.PartyInfluencer:
		column = "influencer_signed_at"
	default:
		return contract.Contract{}, contract.ErrUnknownParty
	}

	update := types.Update{
		TableName:                aws.String(s.tables.Contracts),
		Key:                      stringKey("collaboration_id", collaborationID),
		UpdateExpression:         aws.String("SET #signed = if_not_exists(#signed, :at), updated_at = :at"),
		ConditionExpression:      aws.String("attribute_exists(collaboration_id)"),
		ExpressionAttributeNames: map[string]string{"#signed": column},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": millisValue(signedAt),
		},
	}

	if idempotencyKey == "" {
		_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
		if err != nil {
			if conditionFailed(err) {
				return contract.Contract{}, contract.ErrNotFound
			}
			return contract.Contract{}, fmt.Errorf("dynamo: record signature: %w", err)
		}
		return s.GetContract(ctx, collaborationID)
	}

	key, err := attributevalue.MarshalMap(map[string]any{"key": idempotencyKey, "created_at": toMillis(signedAt)})
	if err != nil {
		return contract.Contract{}, fmt.Errorf("dynamo: marshal idempotency key: %w", err)
	}
	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(s.tables.Idempotency),
				Item:                     key,
				ConditionExpression:      aws.String("attribute_not_exists(#key)"),
				ExpressionAttributeNames: map[string]string{"#key": "key"},
			}},
			{Update: &update},
		},
	})
	switch {
	case err == nil:
	case canceledBy(err, 0):
		return contract.Contract{}, contract.ErrDuplicateIdempotencyKey
	case canceledBy(err, 1):
		return contract.Contract{}, contract.ErrNotFound
	default:
		return contract.Contract{}, fmt.Errorf("dynamo: record signature: %w", err)
	}
	return s.GetContract(ctx, collaborationID)
}
