package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

const (
	attrID        = "id"
	attrContent   = "content"
	attrCreatedAt = "created_at_ms"
	attrExpiresAt = "expires_at_ms"
	attrMaxViews  = "max_views"
	attrViewCount = "view_count"
	// attrPurgeAt holds epoch seconds and is meant to be configured as the table TTL attribute.
	attrPurgeAt = "purge_at"

	insertCondition  = "attribute_not_exists(#id)"
	consumeUpdate    = "SET #views = #views + :one"
	consumeCondition = "attribute_exists(#id) AND (attribute_not_exists(#exp) OR #exp >= :cutoff) AND (attribute_not_exists(#max) OR #views < #max)"
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Options configures the DynamoDB-backed store.
type Options struct {
	Table    string
	Region   string
	Endpoint string
	// Grace is added to expiry and exhaustion instants when computing purge_at.
	Grace  time.Duration
	Logger *zap.Logger
}

// Store implements pastes.Store on a DynamoDB table keyed by id.
// Dead items are removed by the table's native TTL on purge_at.
type Store struct {
	api    API
	table  string
	grace  time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// Open loads AWS configuration and builds a client. Endpoint overrides the service URL, e.g. for DynamoDB Local.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client, err := NewClient(ctx, opts.Region, opts.Endpoint)
	if err != nil {
		return nil, err
	}
	return New(client, opts), nil
}

// NewClient builds a DynamoDB client for region, optionally pointed at endpoint.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// New wraps an existing API implementation.
func New(api API, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{api: api, table: opts.Table, grace: opts.Grace, clock: time.Now, logger: logger}
}

// Insert writes the item under an attribute_not_exists guard.
func (s *Store) Insert(ctx context.Context, paste *pastes.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}

	item := map[string]types.AttributeValue{
		attrID:        &types.AttributeValueMemberS{Value: paste.ID},
		attrContent:   &types.AttributeValueMemberS{Value: paste.Content},
		attrCreatedAt: numberValue(paste.CreatedAtMillis),
		attrViewCount: numberValue(paste.ViewCount),
	}
	if paste.ExpiresAtMillis != nil {
		item[attrExpiresAt] = numberValue(*paste.ExpiresAtMillis)
		item[attrPurgeAt] = numberValue(time.UnixMilli(*paste.ExpiresAtMillis).Add(s.grace).Unix())
	}
	if paste.MaxViews != nil {
		item[attrMaxViews] = numberValue(*paste.MaxViews)
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String(insertCondition),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if isConditionFailure(err) {
		return pastes.ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("put paste: %w", err)
	}
	return nil
}

// Get performs a strongly consistent read.
func (s *Store) Get(ctx context.Context, id pastes.PasteID) (*pastes.Paste, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(id.String()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get paste: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, pastes.ErrNotFound
	}
	return itemToPaste(out.Item)
}

// ConsumeView increments view_count under a condition expression encoding liveness at now.
func (s *Store) ConsumeView(ctx context.Context, id pastes.PasteID, now time.Time) (*pastes.Paste, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 keyOf(id.String()),
		UpdateExpression:    aws.String(consumeUpdate),
		ConditionExpression: aws.String(consumeCondition),
		ExpressionAttributeNames: map[string]string{
			"#id":    attrID,
			"#exp":   attrExpiresAt,
			"#max":   attrMaxViews,
			"#views": attrViewCount,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":    numberValue(1),
			":cutoff": numberValue(pastes.CutoffMillis(now)),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if isConditionFailure(err) {
		return nil, pastes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume view: %w", err)
	}

	paste, err := itemToPaste(out.Attributes)
	if err != nil {
		return nil, err
	}
	if paste.QuotaExhausted() {
		s.schedulePurge(ctx, paste.ID)
	}
	return paste, nil
}

// schedulePurge stamps purge_at on exhausted items. Failure only delays cleanup.
func (s *Store) schedulePurge(ctx context.Context, id string) {
	purgeAt := s.clock().Add(s.grace).Unix()
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyOf(id),
		UpdateExpression:          aws.String("SET #purge = :purge"),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  map[string]string{"#id": attrID, "#purge": attrPurgeAt},
		ExpressionAttributeValues: map[string]types.AttributeValue{":purge": numberValue(purgeAt)},
	})
	if err != nil {
		s.logger.Warn("failed to schedule purge of exhausted paste",
			zap.String("operation", "dynamodb.schedule_purge"),
			zap.String("paste_id", id),
			zap.Error(err))
	}
}

// Ping describes the table.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return err
}

// Close is a no-op; the SDK client holds no persistent connections that need releasing.
func (s *Store) Close() error {
	return nil
}

func keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: id}}
}

func numberValue(value int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)}
}

func isConditionFailure(err error) bool {
	var conditionFailed *types.ConditionalCheckFailedException
	return errors.As(err, &conditionFailed)
}

func itemToPaste(item map[string]types.AttributeValue) (*pastes.Paste, error) {
	paste := &pastes.Paste{}

	id, ok := item[attrID].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("item missing %s", attrID)
	}
	paste.ID = id.Value
	if content, ok := item[attrContent].(*types.AttributeValueMemberS); ok {
		paste.Content = content.Value
	}

	var err error
	if paste.CreatedAtMillis, _, err = numberAttr(item, attrCreatedAt); err != nil {
		return nil, err
	}
	if paste.ViewCount, _, err = numberAttr(item, attrViewCount); err != nil {
		return nil, err
	}
	if value, present, err := numberAttr(item, attrExpiresAt); err != nil {
		return nil, err
	} else if present {
		paste.ExpiresAtMillis = &value
	}
	if value, present, err := numberAttr(item, attrMaxViews); err != nil {
		return nil, err
	} else if present {
		paste.MaxViews = &value
	}
	return paste, nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, bool, error) {
	raw, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.ParseInt(raw.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", name, err)
	}
	return value, true, nil
}
