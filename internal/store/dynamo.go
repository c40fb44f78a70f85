package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/jobs"
)

// DefaultSiteIndex is the GSI partitioned by site_url, sorted by updated_at.
const DefaultSiteIndex = "site_url-updated_at-index"

// DynamoAPI is the subset of the DynamoDB client the ledger uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoLedger implements Ledger on a single DynamoDB table keyed by job_id.
type DynamoLedger struct {
	client    DynamoAPI
	tableName string
	siteIndex string
	now       func() time.Time
}

var _ Ledger = (*DynamoLedger)(nil)

// NewDynamoLedger creates a ledger for tableName. An empty siteIndex
// selects DefaultSiteIndex.
func NewDynamoLedger(client DynamoAPI, tableName, siteIndex string) *DynamoLedger {
	if siteIndex == "" {
		siteIndex = DefaultSiteIndex
	}
	return &DynamoLedger{
		client:    client,
		tableName: tableName,
		siteIndex: siteIndex,
		now:       time.Now,
	}
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}

// Create inserts job on condition that the id is unused. Timestamps and
// the terminal flag are filled in here.
func (s *DynamoLedger) Create(ctx context.Context, job *Job) error {
	now := s.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Terminal = jobs.IsTerminal(job.Status)

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("PutItem job_id=%s: %w", job.ID, ErrConflict)
		}
		return fmt.Errorf("PutItem job_id=%s: %w", job.ID, err)
	}

	log.Debug().Str("jobId", job.ID).Str("platform", string(job.Platform)).Str("status", job.Status).Msg("Job created")
	return nil
}

// Get reads a job with a strongly consistent read.
func (s *DynamoLedger) Get(ctx context.Context, jobID string) (*Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            jobKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem job_id=%s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var job Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job_id=%s: %w", jobID, err)
	}
	return &job, nil
}

// SetStatus performs a partial update guarded by the terminal flag.
func (s *DynamoLedger) SetStatus(ctx context.Context, jobID, status string, attrs map[string]any) error {
	if err := CheckAttrs(attrs); err != nil {
		return err
	}

	names := map[string]string{"#status": "status", "#terminal": "terminal"}
	values := map[string]types.AttributeValue{
		":status":   &types.AttributeValueMemberS{Value: status},
		":now":      &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		":terminal": &types.AttributeValueMemberBOOL{Value: jobs.IsTerminal(status)},
		":false":    &types.AttributeValueMemberBOOL{Value: false},
	}
	expr := "SET #status = :status, updated_at = :now, #terminal = :terminal"

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		av, err := attributevalue.Marshal(attrs[k])
		if err != nil {
			return fmt.Errorf("marshal attribute %s: %w", k, err)
		}
		n, v := "#a"+strconv.Itoa(i), ":a"+strconv.Itoa(i)
		names[n] = k
		values[v] = av
		expr += ", " + n + " = " + v
	}

	start := time.Now()
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 jobKey(jobID),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String("attribute_exists(job_id) AND (attribute_not_exists(#terminal) OR #terminal = :false OR #status = :status)"),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return fmt.Errorf("UpdateItem job_id=%s: %w", jobID, ErrNotFound)
			}
			current := ""
			if sv, ok := ccf.Item["status"].(*types.AttributeValueMemberS); ok {
				current = sv.Value
			}
			return fmt.Errorf("UpdateItem job_id=%s status=%s (current %s): %w", jobID, status, current, ErrTerminal)
		}
		return fmt.Errorf("UpdateItem job_id=%s: %w", jobID, err)
	}

	log.Debug().
		Str("jobId", jobID).
		Str("status", status).
		Int("attrs", len(attrs)).
		Dur("elapsed", time.Since(start)).
		Msg("Job status updated")
	return nil
}

// QueryBySite pages through the site index newest first.
func (s *DynamoLedger) QueryBySite(ctx context.Context, siteURL string) ([]*Job, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.siteIndex,
		KeyConditionExpression: aws.String("site_url = :site"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":site": &types.AttributeValueMemberS{Value: siteURL},
		},
		ScanIndexForward: aws.Bool(false),
	}

	var out []*Job
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query %s site_url=%s: %w", s.siteIndex, siteURL, err)
		}
		var batch []*Job
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal site_url=%s: %w", siteURL, err)
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

// Delete removes the record and reports whether it existed.
func (s *DynamoLedger) Delete(ctx context.Context, jobID string) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    &s.tableName,
		Key:          jobKey(jobID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("DeleteItem job_id=%s: %w", jobID, err)
	}
	existed := len(out.Attributes) > 0
	log.Debug().Str("jobId", jobID).Bool("existed", existed).Msg("Job deleted")
	return existed, nil
}
