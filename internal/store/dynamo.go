package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/szaher/minime/internal/llm"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// batchWriteLimit is the DynamoDB cap on requests per BatchWriteItem call.
const batchWriteLimit = 25

const maxBatchRetries = 5

// profileAttrs maps UserInfo fields to item attributes.
var profileAttrs = []struct {
	attr string
	get  func(*UserInfo) **string
}{
	{"name", func(u *UserInfo) **string { return &u.Name }},
	{"company", func(u *UserInfo) **string { return &u.Company }},
	{"role", func(u *UserInfo) **string { return &u.Role }},
	{"ip", func(u *UserInfo) **string { return &u.IP }},
	{"country", func(u *UserInfo) **string { return &u.Country }},
	{"city", func(u *UserInfo) **string { return &u.City }},
	{"postal_code", func(u *UserInfo) **string { return &u.PostalCode }},
	{"time_zone", func(u *UserInfo) **string { return &u.TimeZone }},
}

// DynamoStore keeps conversations in a single DynamoDB table keyed by
// PK (session id) and SK (item discriminator).
type DynamoStore struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore creates a store backed by the given table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

func itemKey(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionID},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

// AddMessage writes a MSG# item.
func (s *DynamoStore) AddMessage(ctx context.Context, sessionID string, role llm.Role, content string) (Message, error) {
	msg := Message{
		SessionID: sessionID,
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	item := itemKey(sessionID, MessageKey(msg.ID))
	item["role"] = &types.AttributeValueMemberS{Value: string(role)}
	item["content"] = &types.AttributeValueMemberS{Value: content}
	item["ts"] = &types.AttributeValueMemberS{Value: msg.Timestamp.Format(time.RFC3339Nano)}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return Message{}, opErr("dynamodb", "add message", err)
	}
	return msg, nil
}

// GetConversation queries all MSG# items in ascending key order, following
// pagination.
func (s *DynamoStore) GetConversation(ctx context.Context, sessionID string) ([]Message, error) {
	var (
		out       []Message
		startKey  map[string]types.AttributeValue
		keyValues = map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionID},
			":prefix": &types.AttributeValueMemberS{Value: MessagePrefix},
		}
	)
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: keyValues,
			ScanIndexForward:          aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, opErr("dynamodb", "get conversation", err)
		}
		for _, item := range resp.Items {
			out = append(out, messageFromItem(sessionID, item))
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = resp.LastEvaluatedKey
	}
}

func messageFromItem(sessionID string, item map[string]types.AttributeValue) Message {
	sk, _ := stringAttr(item, "SK")
	role, _ := stringAttr(item, "role")
	content, _ := stringAttr(item, "content")
	msg := Message{
		SessionID: sessionID,
		ID:        MessageIDFromKey(sk),
		Role:      llm.Role(role),
		Content:   content,
	}
	if ts, ok := stringAttr(item, "ts"); ok {
		msg.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = TimeFromID(msg.ID)
	}
	return msg
}

// GetSummary reads the SUMMARY item.
func (s *DynamoStore) GetSummary(ctx context.Context, sessionID string) (string, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(sessionID, SummaryKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", opErr("dynamodb", "get summary", err)
	}
	text, _ := stringAttr(resp.Item, "summary")
	return text, nil
}

// SaveSummary overwrites the SUMMARY item.
func (s *DynamoStore) SaveSummary(ctx context.Context, sessionID, text string) error {
	item := itemKey(sessionID, SummaryKey)
	item["summary"] = &types.AttributeValueMemberS{Value: text}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return opErr("dynamodb", "save summary", err)
}

// GetUserInfo reads the META item.
func (s *DynamoStore) GetUserInfo(ctx context.Context, sessionID string) (*UserInfo, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(sessionID, ProfileKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, opErr("dynamodb", "get user info", err)
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	info := &UserInfo{}
	for _, f := range profileAttrs {
		if v, ok := stringAttr(resp.Item, f.attr); ok {
			*f.get(info) = Ptr(v)
		}
	}
	return info, nil
}

// SaveUserInfo sets only the provided attributes on the META item, so
// concurrent partial updates never erase each other.
func (s *DynamoStore) SaveUserInfo(ctx context.Context, sessionID string, info UserInfo) error {
	var (
		sets   []string
		names  = map[string]string{}
		values = map[string]types.AttributeValue{}
	)
	for _, f := range profileAttrs {
		v := *f.get(&info)
		if v == nil {
			continue
		}
		sets = append(sets, fmt.Sprintf("#%s = :%s", f.attr, f.attr))
		names["#"+f.attr] = f.attr
		values[":"+f.attr] = &types.AttributeValueMemberS{Value: *v}
	}
	if len(sets) == 0 {
		return nil
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(sessionID, ProfileKey),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return opErr("dynamodb", "save user info", err)
}

// ClearConversation deletes every item under the session partition.
func (s *DynamoStore) ClearConversation(ctx context.Context, sessionID string) error {
	var (
		keys     []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: sessionID},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return opErr("dynamodb", "clear conversation", err)
		}
		for _, item := range resp.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		startKey = resp.LastEvaluatedKey
	}

	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		if err := s.batchDelete(ctx, reqs); err != nil {
			return opErr("dynamodb", "clear conversation", err)
		}
	}
	return nil
}

func (s *DynamoStore) batchDelete(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: reqs}
	for attempt := 0; attempt < maxBatchRetries; attempt++ {
		resp, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if len(resp.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = resp.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("%d delete requests left unprocessed", len(pending[s.table]))
}
