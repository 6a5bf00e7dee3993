package dynamo

import (
	"strings"
	"time"

	"github.com/zlnvch/holoboard/models"
)

const (
	statsSK       = "STATS"
	closedPrefix  = "CLOSED#"
	roomPrefix    = "ROOM#"
	sessionPrefix = "SESSION#"
)

func roomPK(roomId string) string    { return roomPrefix + roomId }
func sessionPK(roomId string) string { return sessionPrefix + roomId }

type dynamoRoomStats struct {
	PK                 string `dynamodbav:"PK"`
	SK                 string `dynamodbav:"SK"`
	Joins              int    `dynamodbav:"Joins"`
	Leaves             int    `dynamodbav:"Leaves"`
	Rejections         int    `dynamodbav:"Rejections"`
	ShapesStarted      int    `dynamodbav:"ShapesStarted"`
	ShapeUpdates       int    `dynamodbav:"ShapeUpdates"`
	ShapesDeleted      int    `dynamodbav:"ShapesDeleted"`
	CanvasReplacements int    `dynamodbav:"CanvasReplacements"`
	Clears             int    `dynamodbav:"Clears"`
	Closures           int    `dynamodbav:"Closures"`
}

func statsFromDynamo(roomId string, ds dynamoRoomStats) models.RoomStats {
	return models.RoomStats{
		RoomId:             roomId,
		Joins:              ds.Joins,
		Leaves:             ds.Leaves,
		Rejections:         ds.Rejections,
		ShapesStarted:      ds.ShapesStarted,
		ShapeUpdates:       ds.ShapeUpdates,
		ShapesDeleted:      ds.ShapesDeleted,
		CanvasReplacements: ds.CanvasReplacements,
		Clears:             ds.Clears,
		Closures:           ds.Closures,
	}
}

// Times are stored as unix milliseconds.
type dynamoSession struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	ParticipantId string `dynamodbav:"ParticipantId"`
	ProfileId     string `dynamodbav:"ProfileId"`
	Username      string `dynamodbav:"Username"`
	JoinedAt      int64  `dynamodbav:"JoinedAt"`
	LeftAt        int64  `dynamodbav:"LeftAt"`
}

func sessionToDynamo(s models.SessionRecord) dynamoSession {
	return dynamoSession{
		PK:            sessionPK(s.RoomId),
		SK:            s.Id,
		ParticipantId: s.ParticipantId,
		ProfileId:     s.ProfileId,
		Username:      s.Username,
		JoinedAt:      s.JoinedAt.UnixMilli(),
		LeftAt:        s.LeftAt.UnixMilli(),
	}
}

func sessionFromDynamo(ds dynamoSession) models.SessionRecord {
	return models.SessionRecord{
		Id:            ds.SK,
		RoomId:        strings.TrimPrefix(ds.PK, sessionPrefix),
		ParticipantId: ds.ParticipantId,
		ProfileId:     ds.ProfileId,
		Username:      ds.Username,
		JoinedAt:      time.UnixMilli(ds.JoinedAt).UTC(),
		LeftAt:        time.UnixMilli(ds.LeftAt).UTC(),
	}
}

type dynamoRoomSummary struct {
	PK               string `dynamodbav:"PK"`
	SK               string `dynamodbav:"SK"`
	OpenedAt         int64  `dynamodbav:"OpenedAt"`
	ClosedAt         int64  `dynamodbav:"ClosedAt"`
	PeakParticipants int    `dynamodbav:"PeakParticipants"`
	ShapeCount       int    `dynamodbav:"ShapeCount"`
}

func summaryToDynamo(s models.RoomSummary) dynamoRoomSummary {
	return dynamoRoomSummary{
		PK:               roomPK(s.RoomId),
		SK:               closedPrefix + s.Epoch,
		OpenedAt:         s.OpenedAt.UnixMilli(),
		ClosedAt:         s.ClosedAt.UnixMilli(),
		PeakParticipants: s.PeakParticipants,
		ShapeCount:       s.ShapeCount,
	}
}
