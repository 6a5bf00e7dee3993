package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zlnvch/holoboard/models"
)

// BatchWriteItem accepts at most this many requests.
const maxBatchSize = 25

type DynamoBoardStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoBoardStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoBoardStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoBoardStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoBoardStore) IncrementRoomCounters(ctx context.Context, roomId string, counters map[string]int) error {
	return incrementCounters(dynamoStore, ctx, roomPK(roomId), statsSK, counters)
}

func (dynamoStore *DynamoBoardStore) WriteSessionBatch(ctx context.Context, sessions []models.SessionRecord) ([]models.SessionRecord, error) {
	var unbatched []models.SessionRecord
	var firstErr error

	for start := 0; start < len(sessions); start += maxBatchSize {
		end := min(start+maxBatchSize, len(sessions))

		var writeRequests []types.WriteRequest
		for _, session := range sessions[start:end] {
			avMap, err := attributevalue.MarshalMap(sessionToDynamo(session))
			if err != nil {
				return nil, fmt.Errorf("marshal error: %w", err)
			}
			writeRequests = append(writeRequests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: avMap},
			})
		}

		unprocessed, err := writeBatchRequests[dynamoSession](dynamoStore, ctx, writeRequests)
		for _, u := range unprocessed {
			unbatched = append(unbatched, sessionFromDynamo(u))
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return unbatched, firstErr
}

func (dynamoStore *DynamoBoardStore) GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error) {
	ds, err := getItem[dynamoRoomStats](dynamoStore, ctx, roomPK(roomId), statsSK, false)
	if err != nil {
		return models.RoomStats{}, err
	}
	return statsFromDynamo(roomId, ds), nil
}

func (dynamoStore *DynamoBoardStore) GetRoomSessions(ctx context.Context, roomId string, limit int32) ([]models.SessionRecord, error) {
	// Session ids are v7 uuids, so descending SK order is newest first.
	items, err := queryAllByPK[dynamoSession](dynamoStore, ctx, sessionPK(roomId), false, limit)
	if err != nil {
		return nil, err
	}

	sessions := make([]models.SessionRecord, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, sessionFromDynamo(item))
	}
	return sessions, nil
}

func (dynamoStore *DynamoBoardStore) PutRoomSummary(ctx context.Context, summary models.RoomSummary) (bool, error) {
	_, created, err := ensureItem(dynamoStore, ctx, summaryToDynamo(summary))
	return created, err
}
