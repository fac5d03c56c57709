// Package store implements the Durable Writer: the response-level
// coordinator that writes placeholder and final messages, and the
// single-table DynamoDB repository backing it.
//
// The repository follows aws-sdk-go-v2's config/client construction idiom
// (options struct, required-field validation, wrapped errors) and extends
// the module's existing aws-sdk-go-v2 dependency into DynamoDB instead of
// introducing a separate store client family.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/chatworkbench/streampipe/internal/retry"
	"github.com/chatworkbench/streampipe/internal/telemetry"
)

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("store: message not found")

// DynamoDBClient mirrors the subset of the AWS DynamoDB client required by
// the repository. It matches *dynamodb.Client so callers can pass either the
// real client or a mock in tests.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// RepositoryOptions configures a Repository.
type RepositoryOptions struct {
	Client      DynamoDBClient
	Table       string
	RetryConfig retry.Config
	Telemetry   telemetry.Provider
}

// Repository is the single-table DynamoDB store for messages.
type Repository struct {
	client    DynamoDBClient
	table     string
	retryCfg  retry.Config
	telemetry telemetry.Provider
}

// NewRepository constructs a Repository.
func NewRepository(opts RepositoryOptions) (*Repository, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("store: dynamodb client is required")
	}
	if opts.Table == "" {
		return nil, fmt.Errorf("store: table name is required")
	}
	retryCfg := opts.RetryConfig
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	telemetryProvider := opts.Telemetry
	if telemetryProvider.Logger == nil {
		telemetryProvider = telemetry.NewNoopProvider()
	}
	return &Repository{
		client:    opts.Client,
		table:     opts.Table,
		retryCfg:  retryCfg,
		telemetry: telemetryProvider,
	}, nil
}

// PutMessage writes m, keyed by (chat_id, message_id), along with its GSI
// attributes. It overwrites any existing row at that key, so it serves both
// the response_start placeholder write and the terminal final-message write.
func (r *Repository) PutMessage(ctx context.Context, m message.Message) error {
	item, err := r.messageItem(m)
	if err != nil {
		return err
	}
	return retry.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(r.table),
			Item:      item,
		})
		return err
	})
}

func (r *Repository) messageItem(m message.Message) (map[string]types.AttributeValue, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("store: marshal message: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("store: decode message fields: %w", err)
	}

	fields["PK"] = messagePK(m.ChatID)
	fields["SK"] = messageSK(m.MessageID)

	ts := m.Timestamp.UTC().Format(time.RFC3339)
	fields["GlobalPK"] = globalPK(string(m.Kind))
	fields["GlobalSK"] = globalSK(ts, m.MessageID)

	if m.ParentID != "" {
		fields["ParentPK"] = parentPK(m.ParentID)
		fields["ParentSK"] = messageSK(m.MessageID)
	}
	if userID, ok := m.Metadata["user_id"].(string); ok && userID != "" {
		fields["UserPK"] = userPK(userID)
		fields["UserSK"] = userSK(string(m.Kind), ts, m.MessageID)
	}

	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("store: marshal item: %w", err)
	}
	return item, nil
}

// GetMessage reads the message stored at (chat_id, message_id).
func (r *Repository) GetMessage(ctx context.Context, chatID, messageID string) (*message.Message, error) {
	key, err := attributevalue.MarshalMap(map[string]any{
		"PK": messagePK(chatID),
		"SK": messageSK(messageID),
	})
	if err != nil {
		return nil, fmt.Errorf("store: marshal key: %w", err)
	}

	var out *dynamodb.GetItemOutput
	err = retry.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		var getErr error
		out, getErr = r.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(r.table),
			Key:       key,
		})
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("store: get message: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var fields map[string]any
	if err := attributevalue.UnmarshalMap(out.Item, &fields); err != nil {
		return nil, fmt.Errorf("store: unmarshal item: %w", err)
	}
	for _, indexField := range []string{"PK", "SK", "GlobalPK", "GlobalSK", "ParentPK", "ParentSK", "UserPK", "UserSK"} {
		delete(fields, indexField)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("store: re-encode fields: %w", err)
	}
	var m message.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("store: decode message: %w", err)
	}
	return &m, nil
}

// UpdateStatusIfPending transitions the message at (chat_id, messageID) to
// status, but only if its current status is still "pending". It is used to
// flip the originating request message to "complete" once its response
// finishes, without clobbering a status set by some other path in the
// meantime. A failed condition (status already changed) is not an error.
func (r *Repository) UpdateStatusIfPending(ctx context.Context, chatID, messageID string, status message.Status) error {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: messagePK(chatID)},
		"SK": &types.AttributeValueMemberS{Value: messageSK(messageID)},
	}
	return retry.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(r.table),
			Key:                 key,
			UpdateExpression:    aws.String("SET #status = :status"),
			ConditionExpression: aws.String("#status = :pending"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status":  &types.AttributeValueMemberS{Value: string(status)},
				":pending": &types.AttributeValueMemberS{Value: string(message.StatusPending)},
			},
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return err
	})
}

// PutChatMetadata writes a chat's metadata row, addressed by (chat_id,
// "METADATA") rather than the per-message key.
func (r *Repository) PutChatMetadata(ctx context.Context, chatID string, metadata map[string]any) error {
	fields := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		fields[k] = v
	}
	fields["PK"] = chatPK(chatID)
	fields["SK"] = chatMetadataSK
	fields["chat_id"] = chatID

	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return fmt.Errorf("store: marshal chat metadata: %w", err)
	}
	return retry.Do(ctx, r.retryCfg, func(ctx context.Context) error {
		_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(r.table),
			Item:      item,
		})
		return err
	})
}
