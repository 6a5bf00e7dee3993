package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
)

func TestDecode_JoinRoom(t *testing.T) {
	raw := `{"type":"join-room","data":{"roomId":"team-1","userProfile":{"id":"u1","username":"ada#x1","avatar":"dragon"},"password":"pw"}}`
	ev, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)

	join, ok := ev.(protocol.JoinRoom)
	require.True(t, ok)
	assert.Equal(t, "team-1", join.Room())
	assert.Equal(t, "pw", join.Password)
	assert.Equal(t, models.AvatarRobot, join.UserProfile.Avatar)
}

func TestDecode_StartDrawingFlattened(t *testing.T) {
	raw := `{"type":"start-drawing","data":{"id":"r1","type":"rect","x":0,"y":0,"width":0,"height":0,"color":"#000","fillColor":"#fff","strokeWidth":2,"opacity":1,"rotation":0,"isFilled":false,"roomId":"abc"}}`
	ev, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)

	start := ev.(protocol.StartDrawing)
	assert.Equal(t, "abc", start.RoomId)
	assert.Equal(t, "r1", start.Shape.ShapeId())
	assert.Equal(t, models.ShapeRect, start.Shape.ShapeType())
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		unknown bool
	}{
		{"Not JSON", `{nope`, false},
		{"Missing type", `{"data":{}}`, false},
		{"Unknown event", `{"type":"explode","data":{}}`, true},
		{"Join without username", `{"type":"join-room","data":{"roomId":"a","userProfile":{"id":"u1"}}}`, false},
		{"Join without profile id", `{"type":"join-room","data":{"roomId":"a","userProfile":{"username":"x"}}}`, false},
		{"Join with bad slug", `{"type":"join-room","data":{"roomId":"a/b","userProfile":{"id":"u1","username":"x"}}}`, false},
		{"Start drawing without room", `{"type":"start-drawing","data":{"id":"l1","type":"line","points":[],"opacity":1}}`, false},
		{"Start drawing unknown shape", `{"type":"start-drawing","data":{"id":"l1","type":"blob","roomId":"a"}}`, false},
		{"Drawing without room", `{"type":"drawing","data":{"x":1,"y":2}}`, false},
		{"Update without shape", `{"type":"drawing-shape-update","data":{"roomId":"a"}}`, false},
		{"Delete without id", `{"type":"delete-shape","data":{"roomId":"a"}}`, false},
		{"Canvas update without shapes", `{"type":"canvas-state-update","data":{"roomId":"a"}}`, false},
		{"Clear with object", `{"type":"clear","data":{"roomId":"a"}}`, false},
		{"Cursor without user", `{"type":"cursor-move","data":{"roomId":"a","x":1,"y":1}}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(tc.raw))
			require.Error(t, err)
			if tc.unknown {
				assert.ErrorIs(t, err, protocol.ErrUnknownEvent)
			} else {
				assert.True(t, protocol.IsMalformed(err), "expected malformed, got %v", err)
			}
		})
	}
}

func TestDecode_OptionalRoomPayloads(t *testing.T) {
	ev, err := protocol.Decode([]byte(`{"type":"finish-drawing"}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.Room())

	ev, err = protocol.Decode([]byte(`{"type":"clear","data":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.Clear{RoomId: "abc"}, ev)

	ev, err = protocol.Decode([]byte(`{"type":"leave-room","data":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.LeaveRoom{RoomId: "abc"}, ev)
}

func TestEncodeDecode_InboundThroughTheWire(t *testing.T) {
	rect := &models.RectShape{Id: "r1", X: 3, Y: 4, Width: 50, Height: 30, Opacity: 1}
	msgs := []protocol.Inbound{
		protocol.StartDrawing{RoomId: "abc", Shape: rect},
		protocol.Drawing{RoomId: "abc", ShapeId: "l1", Point: models.Point{X: 1, Y: 2}},
		protocol.DrawingShapeUpdate{RoomId: "abc", Shape: rect},
		protocol.ShapeTransformed{RoomId: "abc", Shape: rect},
		protocol.DeleteShape{RoomId: "abc", Id: "r1"},
		protocol.CanvasStateUpdate{RoomId: "abc"},
		protocol.Clear{RoomId: "abc"},
	}

	for _, m := range msgs {
		t.Run(m.Event(), func(t *testing.T) {
			raw, err := protocol.Encode(m)
			require.NoError(t, err)
			back, err := protocol.Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, m.Event(), back.Event())
			assert.Equal(t, "abc", back.Room())
		})
	}
}

func TestEncode_StartDrawingCarriesRoomIdBesideShapeFields(t *testing.T) {
	raw, err := protocol.Encode(protocol.StartDrawing{RoomId: "abc", Shape: &models.LineShape{Id: "l1", Opacity: 1}})
	require.NoError(t, err)

	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "start-drawing", env.Type)
	assert.Equal(t, "abc", env.Data["roomId"])
	assert.Equal(t, "l1", env.Data["id"])
	assert.Equal(t, "line", env.Data["type"])
}

func TestEncode_OutboundPayloads(t *testing.T) {
	tests := []struct {
		msg  protocol.Outbound
		want string
	}{
		{protocol.RoomFull{}, `{"type":"room-full"}`},
		{protocol.JoinError{Message: protocol.ReasonIncorrectPassword}, `{"type":"join-error","data":{"message":"incorrect-password"}}`},
		{protocol.CanvasState{}, `{"type":"canvas-state","data":[]}`},
		{protocol.ShapeDeleted{Id: "r1"}, `{"type":"shape-deleted","data":"r1"}`},
		{protocol.ClearCanvas{}, `{"type":"clear"}`},
		{protocol.CursorLeft{UserId: "c1"}, `{"type":"cursor-leave","data":"c1"}`},
		{protocol.PointDrawn{Point: models.Point{X: 1, Y: 2}}, `{"type":"drawing","data":{"x":1,"y":2}}`},
	}
	for _, tc := range tests {
		t.Run(tc.msg.Event(), func(t *testing.T) {
			raw, err := protocol.Encode(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestDecodeServer(t *testing.T) {
	ev, err := protocol.DecodeServer([]byte(`{"type":"shape-transformed","data":{"id":"c1","type":"circle","x":1,"y":1,"radius":4,"opacity":1}}`))
	require.NoError(t, err)
	relay := ev.(protocol.ShapeRelay)
	assert.Equal(t, protocol.EventShapeTransformed, relay.Kind)
	assert.Equal(t, "c1", relay.Shape.ShapeId())

	ev, err = protocol.DecodeServer([]byte(`{"type":"room-participants","data":[{"id":"c1","profile":{"id":"u1","username":"ada","avatar":"gem"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.RoomParticipants{Participants: []models.Participant{
		{Id: "c1", Profile: models.UserProfile{Id: "u1", Username: "ada", Avatar: models.AvatarGem}},
	}}, ev)

	ev, err = protocol.DecodeServer([]byte(`{"type":"cursor-move","data":{"userId":"c9","x":5,"y":6,"user":{"id":"u1","username":"ada","avatar":"atom"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "c9", ev.(protocol.CursorMoved).UserId)

	_, err = protocol.DecodeServer([]byte(`{"type":"mystery"}`))
	assert.ErrorIs(t, err, protocol.ErrUnknownEvent)
}

func TestValidRoomId(t *testing.T) {
	assert.True(t, protocol.ValidRoomId("abc_DEF-123"))
	assert.False(t, protocol.ValidRoomId(""))
	assert.False(t, protocol.ValidRoomId("has space"))
	assert.False(t, protocol.ValidRoomId("../etc"))
}
