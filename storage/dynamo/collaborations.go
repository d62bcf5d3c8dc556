package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"collabflow/collaboration"
	"collabflow/outbox"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func (s *Store) Insert(ctx context.Context, c collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	item, err := attributevalue.MarshalMap(toCollaborationItem(c))
	if err != nil {
		return fmt.Errorf("dynamo: marshal collaboration: %w", err)
	}
	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                aws.String(s.tables.Collaborations),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": "id"},
		},
	}}
	return s.commit(ctx, "insert", writes, entry, messages)
}

func (s *Store) CompareAndSwap(ctx context.Context, expected collaboration.Snapshot, next collaboration.Collaboration, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	item, err := attributevalue.MarshalMap(toCollaborationItem(next))
	if err != nil {
		return fmt.Errorf("dynamo: marshal collaboration: %w", err)
	}
	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.tables.Collaborations),
			Item:                item,
			ConditionExpression: aws.String("#status = :expected_status AND #version = :expected_version"),
			ExpressionAttributeNames: map[string]string{
				"#status":  "status",
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected_status":  &types.AttributeValueMemberS{Value: string(expected.Status)},
				":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected.Version, 10)},
			},
		},
	}}
	return s.commit(ctx, "compare and swap", writes, entry, messages)
}

// commit appends the history entry and outbox messages to writes and runs
// them as one transaction. Any failed condition is a lost race.
func (s *Store) commit(ctx context.Context, op string, writes []types.TransactWriteItem, entry collaboration.StatusHistoryEntry, messages []outbox.Message) error {
	hist, err := toHistoryItem(entry)
	if err != nil {
		return fmt.Errorf("dynamo: %s: %w", op, err)
	}
	histAV, err := attributevalue.MarshalMap(hist)
	if err != nil {
		return fmt.Errorf("dynamo: marshal history: %w", err)
	}
	writes = append(writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(s.tables.History),
			Item:                     histAV,
			ConditionExpression:      aws.String("attribute_not_exists(#seq)"),
			ExpressionAttributeNames: map[string]string{"#seq": "seq"},
		},
	})
	for _, m := range messages {
		av, err := attributevalue.MarshalMap(toOutboxItem(m))
		if err != nil {
			return fmt.Errorf("dynamo: marshal outbox %s: %w", m.Topic, err)
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(s.tables.Outbox), Item: av},
		})
	}

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if canceledBy(err, -1) {
			return collaboration.ErrConcurrentModification
		}
		return fmt.Errorf("dynamo: %s: %w", op, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (collaboration.Collaboration, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Collaborations),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("dynamo: get collaboration: %w", err)
	}
	if len(out.Item) == 0 {
		return collaboration.Collaboration{}, collaboration.ErrCollaborationNotFound
	}
	var it collaborationItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("dynamo: unmarshal collaboration: %w", err)
	}
	c, err := fromCollaborationItem(it)
	if err != nil {
		return collaboration.Collaboration{}, fmt.Errorf("dynamo: decode collaboration: %w", err)
	}
	return c, nil
}

func (s *Store) History(ctx context.Context, id string) ([]collaboration.StatusHistoryEntry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.History),
		KeyConditionExpression: aws.String("collaboration_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	}
	var entries []collaboration.StatusHistoryEntry
	for {
		out, err := s.api.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("dynamo: query history: %w", err)
		}
		for _, raw := range out.Items {
			var it historyItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("dynamo: unmarshal history: %w", err)
			}
			e, err := fromHistoryItem(it)
			if err != nil {
				return nil, fmt.Errorf("dynamo: %w", err)
			}
			entries = append(entries, e)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if len(entries) == 0 {
		return nil, collaboration.ErrCollaborationNotFound
	}
	return entries, nil
}
