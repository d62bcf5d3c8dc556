package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"collabflow/outbox"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func millisValue(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(toMillis(t), 10)}
}

// Lease reads due candidates from the status index, then claims each with a
// conditional update. A candidate another consumer claimed first fails its
// condition and is skipped.
func (s *Store) Lease(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]outbox.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("dynamo: lease limit must be greater than zero")
	}
	pending, err := s.queryDue(ctx, &dynamodb.QueryInput{
		KeyConditionExpression: aws.String("#status = :status AND next_attempt_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(outbox.StatusPending)},
			":now":    millisValue(now),
		},
		Limit: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, err
	}
	expired, err := s.queryDue(ctx, &dynamodb.QueryInput{
		KeyConditionExpression: aws.String("#status = :status"),
		FilterExpression:       aws.String("lease_expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(outbox.StatusLeased)},
			":now":    millisValue(now),
		},
	})
	if err != nil {
		return nil, err
	}

	candidates := append(pending, expired...)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.NextAttemptAt != b.NextAttemptAt {
			return a.NextAttemptAt < b.NextAttemptAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})

	var out []outbox.Message
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		res, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.tables.Outbox),
			Key:              stringKey("id", c.ID),
			UpdateExpression: aws.String("SET #status = :leased, lease_owner = :owner, lease_expires_at = :expires, attempt_count = attempt_count + :one"),
			ConditionExpression: aws.String(
				"(#status = :pending AND next_attempt_at <= :now) OR (#status = :leased AND lease_expires_at <= :now)"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":leased":  &types.AttributeValueMemberS{Value: string(outbox.StatusLeased)},
				":pending": &types.AttributeValueMemberS{Value: string(outbox.StatusPending)},
				":owner":   &types.AttributeValueMemberS{Value: consumer},
				":expires": millisValue(now.Add(leaseTTL)),
				":now":     millisValue(now),
				":one":     &types.AttributeValueMemberN{Value: "1"},
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if err != nil {
			if conditionFailed(err) {
				continue
			}
			return nil, fmt.Errorf("dynamo: lease outbox %s: %w", c.ID, err)
		}
		var it outboxItem
		if err := attributevalue.UnmarshalMap(res.Attributes, &it); err != nil {
			return nil, fmt.Errorf("dynamo: unmarshal outbox: %w", err)
		}
		out = append(out, fromOutboxItem(it))
	}
	return out, nil
}

func (s *Store) queryDue(ctx context.Context, input *dynamodb.QueryInput) ([]outboxItem, error) {
	input.TableName = aws.String(s.tables.Outbox)
	input.IndexName = aws.String(outboxDueIndex)
	input.ExpressionAttributeNames = map[string]string{"#status": "status"}
	out, err := s.api.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("dynamo: query due outbox: %w", err)
	}
	items := make([]outboxItem, 0, len(out.Items))
	for _, raw := range out.Items {
		var it outboxItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("dynamo: unmarshal outbox: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) ack(ctx context.Context, id, consumer, update string, values map[string]types.AttributeValue) error {
	values[":leased"] = &types.AttributeValueMemberS{Value: string(outbox.StatusLeased)}
	values[":owner"] = &types.AttributeValueMemberS{Value: consumer}
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables.Outbox),
		Key:                       stringKey("id", id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("#status = :leased AND lease_owner = :owner"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if conditionFailed(err) {
			return outbox.ErrLeaseLost
		}
		return fmt.Errorf("dynamo: ack outbox %s: %w", id, err)
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, id, consumer string, deliveredAt time.Time) error {
	return s.ack(ctx, id, consumer,
		"SET #status = :delivered, lease_owner = :empty, last_error = :empty, delivered_at = :at REMOVE lease_expires_at",
		map[string]types.AttributeValue{
			":delivered": &types.AttributeValueMemberS{Value: string(outbox.StatusDelivered)},
			":empty":     &types.AttributeValueMemberS{Value: ""},
			":at":        millisValue(deliveredAt),
		})
}

func (s *Store) MarkRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error {
	return s.ack(ctx, id, consumer,
		"SET #status = :pending, lease_owner = :empty, next_attempt_at = :next, last_error = :err REMOVE lease_expires_at",
		map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(outbox.StatusPending)},
			":empty":   &types.AttributeValueMemberS{Value: ""},
			":next":    millisValue(nextAttemptAt),
			":err":     &types.AttributeValueMemberS{Value: lastError},
		})
}

func (s *Store) MarkDead(ctx context.Context, id, consumer string, lastError string, _ time.Time) error {
	return s.ack(ctx, id, consumer,
		"SET #status = :dead, lease_owner = :empty, last_error = :err REMOVE lease_expires_at",
		map[string]types.AttributeValue{
			":dead":  &types.AttributeValueMemberS{Value: string(outbox.StatusDead)},
			":empty": &types.AttributeValueMemberS{Value: ""},
			":err":   &types.AttributeValueMemberS{Value: lastError},
		})
}
