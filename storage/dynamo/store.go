// Package dynamo persists collaborations in DynamoDB. Every compare-and-swap
// is a single TransactWriteItems call whose condition expressions carry the
// expected status and version.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"collabflow/collaboration"
	"collabflow/contract"
	"collabflow/escrow"
	"collabflow/outbox"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of the DynamoDB client the store calls.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Tables names the DynamoDB tables backing the store.
type Tables struct {
	Collaborations string
	History        string
	Outbox         string
	Contracts      string
	Idempotency    string
	Holds          string
}

// DefaultTables uses prefix for every table name.
func DefaultTables(prefix string) Tables {
	return Tables{
		Collaborations: prefix + "collaborations",
		History:        prefix + "collaboration_status_history",
		Outbox:         prefix + "collaboration_outbox",
		Contracts:      prefix + "contracts",
		Idempotency:    prefix + "idempotency",
		Holds:          prefix + "escrow_holds",
	}
}

// outboxDueIndex is the GSI (PK status, SK next_attempt_at) the dispatcher
// queries for due messages.
const outboxDueIndex = "status-next_attempt_at-index"

type Store struct {
	api    API
	tables Tables
}

var (
	_ collaboration.Store = (*Store)(nil)
	_ outbox.Store        = (*Store)(nil)
	_ contract.Repository = (*Store)(nil)
	_ escrow.HoldStore    = (*Store)(nil)
)

func New(api API, tables Tables) *Store {
	return &Store{api: api, tables: tables}
}

// ClientOptions configures NewClient. Endpoint targets DynamoDB Local; static
// credentials are used when both keys are set.
type ClientOptions struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds a DynamoDB client from the default AWS config chain.
func NewClient(ctx context.Context, opts ClientOptions) (*dynamodb.Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// EnsureTables creates any missing table with on-demand billing.
func (s *Store) EnsureTables(ctx context.Context) error {
	str := types.ScalarAttributeTypeS
	num := types.ScalarAttributeTypeN
	specs := []dynamodb.CreateTableInput{
		{TableName: aws.String(s.tables.Collaborations), AttributeDefinitions: attrs("id", str), KeySchema: hashKey("id")},
		{
			TableName:            aws.String(s.tables.History),
			AttributeDefinitions: append(attrs("collaboration_id", str), attrs("seq", num)...),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("collaboration_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("seq"), KeyType: types.KeyTypeRange},
			},
		},
		{
			TableName: aws.String(s.tables.Outbox),
			AttributeDefinitions: append(append(attrs("id", str), attrs("status", str)...),
				attrs("next_attempt_at", num)...),
			KeySchema: hashKey("id"),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
				IndexName: aws.String(outboxDueIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("status"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("next_attempt_at"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			}},
		},
		{TableName: aws.String(s.tables.Contracts), AttributeDefinitions: attrs("collaboration_id", str), KeySchema: hashKey("collaboration_id")},
		{TableName: aws.String(s.tables.Idempotency), AttributeDefinitions: attrs("key", str), KeySchema: hashKey("key")},
		{TableName: aws.String(s.tables.Holds), AttributeDefinitions: attrs("collaboration_id", str), KeySchema: hashKey("collaboration_id")},
	}
	for i := range specs {
		in := specs[i]
		in.BillingMode = types.BillingModePayPerRequest
		if _, err := s.api.CreateTable(ctx, &in); err != nil {
			var inUse *types.ResourceInUseException
			if errors.As(err, &inUse) {
				continue
			}
			return fmt.Errorf("dynamo: create table %s: %w", aws.ToString(in.TableName), err)
		}
	}
	return nil
}

func attrs(name string, kind types.ScalarAttributeType) []types.AttributeDefinition {
	return []types.AttributeDefinition{{AttributeName: aws.String(name), AttributeType: kind}}
}

func hashKey(name string) []types.KeySchemaElement {
	return []types.KeySchemaElement{{AttributeName: aws.String(name), KeyType: types.KeyTypeHash}}
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

// canceledBy reports whether a cancelled transaction failed its condition
// check on the item at index. A negative index matches any item.
func canceledBy(err error, index int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for i, reason := range tce.CancellationReasons {
		if index >= 0 && i != index {
			continue
		}
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
