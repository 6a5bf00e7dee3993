package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/holoboard/store"
)

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	if !devMode {
		// Deployed: credentials and region come from the task role.
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamodb.NewFromConfig(cfg), nil
	}

	// DynamoDB Local accepts any static credentials.
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if dynamodbEndpoint != "" {
			o.BaseEndpoint = aws.String(dynamodbEndpoint)
		}
	}), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	var tables []string
	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		tables = append(tables, page.TableNames...)
	}
	return tables, nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem loads the PK/SK item into T, or returns store.ErrItemNotFound.
func getItem[T any](dynamoStore *DynamoBoardStore, ctx context.Context, pk string, sk string, consistentRead bool) (T, error) {
	var item T

	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(dynamoStore.tableName),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return item, fmt.Errorf("GetItem failed: %w", err)
	}
	if resp.Item == nil {
		return item, store.ErrItemNotFound
	}

	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return item, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return item, nil
}

// ensureItem writes item unless an item with the same PK/SK already exists.
// The bool reports whether this call wrote it.
func ensureItem[T any](dynamoStore *DynamoBoardStore, ctx context.Context, item T) (T, bool, error) {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return item, false, fmt.Errorf("marshal error: %w", err)
	}
	if _, ok := avMap["PK"]; !ok {
		return item, false, errors.New("struct missing PK field")
	}
	if _, ok := avMap["SK"]; !ok {
		return item, false, errors.New("struct missing SK field")
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return item, false, nil
		}
		return item, false, fmt.Errorf("failed to put item: %w", err)
	}

	return item, true, nil
}

// queryAllByPK pages through a partition in SK order, stopping once limit
// items are collected (0 = no limit).
func queryAllByPK[T any](dynamoStore *DynamoBoardStore, ctx context.Context, pk string, scanIndexForward bool, limit int32) ([]T, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(scanIndexForward),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	var results []T
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		if limit > 0 && len(results) >= int(limit) {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}

	if limit > 0 && len(results) > int(limit) {
		results = results[:limit]
	}
	return results, nil
}

// writeBatchRequests submits one BatchWriteItem (at most 25 requests) and
// retries unprocessed items with doubling backoff until done or ctx ends.
// Whatever is still unprocessed is returned as []T.
func writeBatchRequests[T any](dynamoStore *DynamoBoardStore, ctx context.Context, requests []types.WriteRequest) ([]T, error) {
	backoff := 50 * time.Millisecond

	for len(requests) > 0 {
		if err := ctx.Err(); err != nil {
			return unmarshalUnprocessed[T](requests), err
		}

		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return unmarshalUnprocessed[T](requests), fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		requests = resp.UnprocessedItems[dynamoStore.tableName]
		if len(requests) == 0 {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmarshalUnprocessed[T](requests), ctx.Err()
		case <-timer.C:
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}

	return nil, nil
}

func unmarshalUnprocessed[T any](reqs []types.WriteRequest) []T {
	failed := make([]T, 0, len(reqs))
	for _, wr := range reqs {
		if wr.PutRequest == nil {
			continue
		}
		var item T
		if err := attributevalue.UnmarshalMap(wr.PutRequest.Item, &item); err == nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// incrementCounters atomically adds each delta to its numeric field,
// creating the item and fields when absent.
func incrementCounters(
	dynamoStore *DynamoBoardStore,
	ctx context.Context,
	pk string,
	sk string,
	counters map[string]int,
) error {
	if len(counters) == 0 {
		return nil
	}

	expr, names, values := counterUpdateExpression(counters)
	_, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(dynamoStore.tableName),
		Key:                       itemKey(pk, sk),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("increment counters failed: %w", err)
	}
	return nil
}

// counterUpdateExpression builds "SET #c0 = if_not_exists(#c0, :zero) + :v0, ..."
// with fields in sorted order so the expression is deterministic.
func counterUpdateExpression(counters map[string]int) (string, map[string]string, map[string]types.AttributeValue) {
	fields := make([]string, 0, len(counters))
	for field := range counters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	names := make(map[string]string, len(fields))
	values := map[string]types.AttributeValue{
		":zero": &types.AttributeValueMemberN{Value: "0"},
	}
	clauses := make([]string, 0, len(fields))
	for i, field := range fields {
		name := fmt.Sprintf("#c%d", i)
		val := fmt.Sprintf(":v%d", i)
		names[name] = field
		values[val] = &types.AttributeValueMemberN{Value: strconv.Itoa(counters[field])}
		clauses = append(clauses, fmt.Sprintf("%s = if_not_exists(%s, :zero) + %s", name, name, val))
	}

	return "SET " + strings.Join(clauses, ", "), names, values
}
