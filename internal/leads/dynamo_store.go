package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dueBucketValue = "due"
	dueIndexName   = "dueBucket-nextDueAt-index"
	emailIndexName = "email-index"
	phoneIndexName = "phone-index"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// dynamoLeadItem is the table row. Due leads carry dueBucket so the sparse due index only holds them.
type dynamoLeadItem struct {
	LeadKey        string `dynamodbav:"leadKey"`
	Email          string `dynamodbav:"email,omitempty"`
	Phone          string `dynamodbav:"phone,omitempty"`
	Mode           string `dynamodbav:"mode"`
	Data           string `dynamodbav:"data"`
	SnapshotHash   string `dynamodbav:"snapshotHash"`
	DueBucket      string `dynamodbav:"dueBucket,omitempty"`
	NextDueAt      int64  `dynamodbav:"nextDueAt,omitempty"`
	CreatedAt      string `dynamodbav:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt"`
	LeaseToken     string `dynamodbav:"leaseToken,omitempty"`
	LeaseExpiresAt int64  `dynamodbav:"leaseExpiresAt,omitempty"`
}

// DynamoStore persists leads in DynamoDB using conditional writes for hash checks and leases.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

var (
	_ Store  = (*DynamoStore)(nil)
	_ Leaser = (*DynamoStore)(nil)
)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	if client == nil {
		panic("leads: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("leads: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoStore) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"leadKey": &types.AttributeValueMemberS{Value: key}}
}

func (s *DynamoStore) FindByKey(ctx context.Context, key string) (*Lead, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("leads: dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return decodeDynamoItem(out.Item)
}

func (s *DynamoStore) FindByContact(ctx context.Context, channel Channel, address string) (*Lead, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrNotFound
	}
	var index, attr string
	switch channel {
	case ChannelEmail:
		index, attr, address = emailIndexName, "email", strings.ToLower(address)
	case ChannelSMS:
		index, attr = phoneIndexName, "phone"
	default:
		return nil, fmt.Errorf("leads: unsupported channel %q", channel)
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :addr"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":addr": &types.AttributeValueMemberS{Value: address}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("leads: dynamodb query contact: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	// Index projections may lag; reload from the table for the authoritative hash.
	var item dynamoLeadItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("leads: dynamodb decode: %w", err)
	}
	return s.FindByKey(ctx, item.LeadKey)
}

func (s *DynamoStore) Create(ctx context.Context, lead *Lead) error {
	if lead == nil || strings.TrimSpace(lead.Key) == "" {
		return ErrMissingKey
	}
	item, hash, err := s.encode(lead)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("leads: dynamodb marshal: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(leadKey)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrExists
		}
		return fmt.Errorf("leads: dynamodb put: %w", err)
	}
	lead.Hash = hash
	return nil
}

func (s *DynamoStore) Patch(ctx context.Context, lead *Lead, expectedHash string) error {
	if lead == nil || lead.Key == "" {
		return ErrMissingKey
	}
	item, hash, err := s.encode(lead)
	if err != nil {
		return err
	}

	sets := []string{"#mode = :mode", "#data = :data", "snapshotHash = :hash", "updatedAt = :updated"}
	var removes []string
	values := map[string]types.AttributeValue{
		":mode":     &types.AttributeValueMemberS{Value: item.Mode},
		":data":     &types.AttributeValueMemberS{Value: item.Data},
		":hash":     &types.AttributeValueMemberS{Value: hash},
		":updated":  &types.AttributeValueMemberS{Value: item.UpdatedAt},
		":expected": &types.AttributeValueMemberS{Value: expectedHash},
	}
	setOrRemove := func(attr, placeholder, value string) {
		if value == "" {
			removes = append(removes, attr)
			return
		}
		sets = append(sets, attr+" = "+placeholder)
		values[placeholder] = &types.AttributeValueMemberS{Value: value}
	}
	setOrRemove("email", ":email", item.Email)
	setOrRemove("phone", ":phone", item.Phone)
	if item.DueBucket != "" {
		sets = append(sets, "dueBucket = :bucket", "nextDueAt = :due")
		values[":bucket"] = &types.AttributeValueMemberS{Value: item.DueBucket}
		values[":due"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", item.NextDueAt)}
	} else {
		removes = append(removes, "dueBucket", "nextDueAt")
	}

	update := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		update += " REMOVE " + strings.Join(removes, ", ")
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.keyAttr(lead.Key),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(leadKey) AND snapshotHash = :expected"),
		ExpressionAttributeNames:  map[string]string{"#mode": "mode", "#data": "data"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			if _, findErr := s.FindByKey(ctx, lead.Key); errors.Is(findErr, ErrNotFound) {
				return ErrNotFound
			}
			return ErrConflict
		}
		return fmt.Errorf("leads: dynamodb update: %w", err)
	}
	lead.Hash = hash
	return nil
}

func (s *DynamoStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(dueIndexName),
		KeyConditionExpression: aws.String("dueBucket = :bucket AND nextDueAt <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bucket": &types.AttributeValueMemberS{Value: dueBucketValue},
			":now":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
		Limit: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("leads: dynamodb query due: %w", err)
	}
	keys := make([]string, 0, len(out.Items))
	for _, raw := range out.Items {
		var item dynamoLeadItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("leads: dynamodb decode: %w", err)
		}
		keys = append(keys, item.LeadKey)
	}
	return keys, nil
}

func (s *DynamoStore) AcquireLease(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := newLeaseToken()
	now := s.now()
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.keyAttr(key),
		UpdateExpression:    aws.String("SET leaseToken = :token, leaseExpiresAt = :exp"),
		ConditionExpression: aws.String("attribute_exists(leadKey) AND (attribute_not_exists(leaseToken) OR leaseExpiresAt <= :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
			":exp":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(ttl).UnixMilli())},
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.UnixMilli())},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("leads: dynamodb acquire lease: %w", err)
	}
	return token, true, nil
}

func (s *DynamoStore) ReleaseLease(ctx context.Context, key, token string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.keyAttr(key),
		UpdateExpression:          aws.String("REMOVE leaseToken, leaseExpiresAt"),
		ConditionExpression:       aws.String("leaseToken = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":token": &types.AttributeValueMemberS{Value: token}},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("leads: dynamodb release lease: %w", err)
	}
	return nil
}

func (s *DynamoStore) encode(lead *Lead) (dynamoLeadItem, string, error) {
	hash, err := stamp(lead, s.now())
	if err != nil {
		return dynamoLeadItem{}, "", fmt.Errorf("leads: hash failed: %w", err)
	}
	data, err := json.Marshal(lead)
	if err != nil {
		return dynamoLeadItem{}, "", fmt.Errorf("leads: encode failed: %w", err)
	}
	item := dynamoLeadItem{
		LeadKey:      lead.Key,
		Email:        strings.ToLower(strings.TrimSpace(lead.Email)),
		Phone:        strings.TrimSpace(lead.Phone),
		Mode:         string(lead.Mode),
		Data:         string(data),
		SnapshotHash: hash,
		CreatedAt:    lead.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    lead.UpdatedAt.Format(time.RFC3339Nano),
	}
	if next := lead.NextDueAt(); next != nil {
		item.DueBucket = dueBucketValue
		item.NextDueAt = next.Unix()
	}
	return item, hash, nil
}

func decodeDynamoItem(raw map[string]types.AttributeValue) (*Lead, error) {
	var item dynamoLeadItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("leads: dynamodb decode: %w", err)
	}
	lead, err := decodeLead([]byte(item.Data))
	if err != nil {
		return nil, err
	}
	lead.Hash = item.SnapshotHash
	return lead, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
