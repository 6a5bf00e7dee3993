package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/holoboard/api"
	"github.com/zlnvch/holoboard/cache/memory"
	"github.com/zlnvch/holoboard/client"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
	"github.com/zlnvch/holoboard/room"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type testServer struct {
	srv *httptest.Server
	url string
}

func startServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	holoboardAPI := api.NewHoloboardAPI(
		room.NewRegistry(capacity, room.DefaultShapeLimit),
		memory.NewBus(),
		nil,
		nil,
		[]byte("test-ticket-secret"),
		"*",
		ctx,
	)
	srv := httptest.NewServer(holoboardAPI.Router())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testServer{srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

// connRecorder keeps the raw TCP connections a dialer opens so tests can
// sever them underneath the websocket.
type connRecorder struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (r *connRecorder) dialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err == nil {
				r.mu.Lock()
				r.conns = append(r.conns, conn)
				r.mu.Unlock()
			}
			return conn, err
		},
	}
}

func (r *connRecorder) last() net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[len(r.conns)-1]
}

func profile(id string) models.UserProfile {
	return models.UserProfile{Id: id, Username: id, Avatar: models.AvatarRobot}
}

func config(url, roomId, user string) client.Config {
	return client.Config{URL: url, RoomId: roomId, Profile: profile(user)}
}

func dial(t *testing.T, cfg client.Config) *client.Session {
	t.Helper()
	s, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ids(shapes []models.Shape) []string {
	out := make([]string, 0, len(shapes))
	for _, s := range shapes {
		out = append(out, s.ShapeId())
	}
	return out
}

func assertIds(t *testing.T, s *client.Session, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, ids(s.Shapes()))
	}, waitFor, tick, "want shapes %v", want)
}

func TestSession_ShapeLifecycleReachesOtherParticipants(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))
	bob := dial(t, config(ts.url, "board", "bob"))

	assert.Eventually(t, func() bool { return len(alice.Participants()) == 2 }, waitFor, tick)

	require.NoError(t, alice.StartDrawing(&models.RectShape{Id: "r1", Color: "#000", Opacity: 1}))
	require.NoError(t, alice.UpdateShape(&models.RectShape{Id: "r1", Width: 50, Height: 30, Color: "#000", Opacity: 1}))
	assertIds(t, bob, "r1")
	assert.Eventually(t, func() bool {
		shapes := bob.Shapes()
		return len(shapes) == 1 && shapes[0].(*models.RectShape).Width == 50
	}, waitFor, tick)

	require.NoError(t, alice.TransformShape(&models.RectShape{Id: "r1", X: 10, Width: 50, Height: 30, Color: "#000", Opacity: 1}))
	assert.Eventually(t, func() bool {
		shapes := bob.Shapes()
		return len(shapes) == 1 && shapes[0].(*models.RectShape).X == 10
	}, waitFor, tick)

	require.NoError(t, bob.DeleteShape("r1"))
	assertIds(t, alice)
	assertIds(t, bob)
}

func TestSession_LateJoinerGetsCanvas(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))
	require.NoError(t, alice.StartDrawing(&models.CircleShape{Id: "c1", Radius: 5, Opacity: 1}))
	require.NoError(t, alice.StartDrawing(&models.TextShape{Id: "t1", Text: "hello", FontSize: 16, Opacity: 1}))

	watcher := dial(t, config(ts.url, "board", "watcher"))
	assertIds(t, watcher, "c1", "t1")
}

func TestSession_FreehandLine(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))
	bob := dial(t, config(ts.url, "board", "bob"))
	assert.Eventually(t, func() bool { return len(alice.Participants()) == 2 }, waitFor, tick)

	require.NoError(t, alice.StartDrawing(&models.LineShape{Id: "l1", Points: []models.Point{{X: 0, Y: 0}}, Color: "#f00", StrokeWidth: 2, Opacity: 1}))
	require.NoError(t, alice.Draw(models.Point{X: 1, Y: 1}))
	require.NoError(t, alice.Draw(models.Point{X: 2, Y: 2}))
	require.NoError(t, alice.FinishDrawing())
	assert.ErrorIs(t, alice.Draw(models.Point{X: 3, Y: 3}), client.ErrNoActiveLine)

	want := []models.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}
	assert.Eventually(t, func() bool {
		shapes := bob.Shapes()
		return len(shapes) == 1 && assert.ObjectsAreEqual(want, shapes[0].(*models.LineShape).Points)
	}, waitFor, tick)

	assert.ErrorIs(t, alice.StartDrawing(&models.LineShape{Id: "l1", Opacity: 1}), client.ErrShapeExists)
}

func TestSession_ClearAndReplace(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))
	bob := dial(t, config(ts.url, "board", "bob"))
	assert.Eventually(t, func() bool { return len(bob.Participants()) == 2 }, waitFor, tick)

	require.NoError(t, alice.StartDrawing(&models.RectShape{Id: "r1", Opacity: 1}))
	assertIds(t, bob, "r1")

	require.NoError(t, bob.Clear())
	assertIds(t, alice)

	require.NoError(t, alice.ReplaceCanvas([]models.Shape{
		&models.RectShape{Id: "a", Opacity: 1},
		&models.RectShape{Id: "b", Opacity: 1},
		&models.RectShape{Id: "a", Opacity: 1},
	}))
	assertIds(t, alice, "a", "b")
	assertIds(t, bob, "a", "b")
}

func TestSession_Eraser(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))
	bob := dial(t, config(ts.url, "board", "bob"))
	assert.Eventually(t, func() bool { return len(alice.Participants()) == 2 }, waitFor, tick)

	points := make([]models.Point, 0, 11)
	for x := 0; x <= 100; x += 10 {
		points = append(points, models.Point{X: float64(x), Y: 0})
	}
	require.NoError(t, alice.StartDrawing(&models.LineShape{Id: "l1", Points: points, Color: "#000", StrokeWidth: 2, Opacity: 1}))
	require.NoError(t, alice.FinishDrawing())
	assertIds(t, bob, "l1")

	require.NoError(t, alice.Erase(models.Point{X: 50, Y: 0}, 5))

	fragments := ids(alice.Shapes())
	require.Len(t, fragments, 2)
	assert.NotContains(t, fragments, "l1")
	assertIds(t, bob, fragments...)

	// nothing left under the cursor
	require.NoError(t, alice.Erase(models.Point{X: 50, Y: 0}, 5))
	assert.Equal(t, fragments, ids(alice.Shapes()))
}

func TestSession_Cursors(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))
	bob := dial(t, config(ts.url, "board", "bob"))
	assert.Eventually(t, func() bool { return len(alice.Participants()) == 2 }, waitFor, tick)

	sent, err := alice.MoveCursor(5, 6)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = alice.MoveCursor(7, 8)
	require.NoError(t, err)
	assert.False(t, sent, "second move inside the interval is throttled")

	aliceId := alice.ParticipantId()
	assert.Eventually(t, func() bool {
		c, ok := bob.Cursors()[aliceId]
		return ok && c.X == 5 && c.Y == 6 && c.User.Id == "alice"
	}, waitFor, tick)

	require.NoError(t, alice.Leave())
	assert.Eventually(t, func() bool {
		_, ok := bob.Cursors()[aliceId]
		return !ok && len(bob.Participants()) == 1
	}, waitFor, tick)
}

func TestSession_CursorOfSecondConnectionSurvivesRosterUpdates(t *testing.T) {
	ts := startServer(t, 5)
	bob := dial(t, config(ts.url, "board", "bob"))
	dial(t, config(ts.url, "board", "alice"))
	aliceTablet := dial(t, config(ts.url, "board", "alice"))

	sent, err := aliceTablet.MoveCursor(3, 4)
	require.NoError(t, err)
	require.True(t, sent)
	tabletId := aliceTablet.ParticipantId()
	assert.Eventually(t, func() bool {
		_, ok := bob.Cursors()[tabletId]
		return ok
	}, waitFor, tick)

	// the roster only lists alice's first connection
	dial(t, config(ts.url, "board", "carol"))
	assert.Eventually(t, func() bool { return len(bob.Participants()) == 3 }, waitFor, tick)
	_, ok := bob.Cursors()[tabletId]
	assert.True(t, ok)

	require.NoError(t, aliceTablet.Leave())
	assert.Eventually(t, func() bool {
		_, ok := bob.Cursors()[tabletId]
		return !ok
	}, waitFor, tick)
}

func TestSession_JoinRejections(t *testing.T) {
	ts := startServer(t, 2)

	owner := config(ts.url, "locked", "owner")
	owner.Password = "hunter2"
	dial(t, owner)

	wrong := config(ts.url, "locked", "guest")
	wrong.Password = "nope"
	_, err := client.Dial(context.Background(), wrong)
	assert.ErrorIs(t, err, client.ErrIncorrectPassword)

	right := config(ts.url, "locked", "guest")
	right.Password = "hunter2"
	dial(t, right)

	late := config(ts.url, "locked", "late")
	late.Password = "hunter2"
	_, err = client.Dial(context.Background(), late)
	assert.ErrorIs(t, err, client.ErrRoomFull)
}

func TestSession_LongPassword(t *testing.T) {
	ts := startServer(t, 5)
	pw := strings.Repeat("s", 100)

	owner := config(ts.url, "locked", "owner")
	owner.Password = pw
	start := time.Now()
	dial(t, owner)
	assert.Less(t, time.Since(start), waitFor)

	guest := config(ts.url, "locked", "guest")
	guest.Password = pw
	dial(t, guest)
}

func TestSession_WrongPasswordFloodDoesNotStallOtherRooms(t *testing.T) {
	ts := startServer(t, 5)
	owner := config(ts.url, "locked", "owner")
	owner.Password = "hunter2"
	dial(t, owner)

	alice := dial(t, config(ts.url, "other", "alice"))
	bob := dial(t, config(ts.url, "other", "bob"))
	assert.Eventually(t, func() bool { return len(alice.Participants()) == 2 }, waitFor, tick)

	raw, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	defer raw.Close()
	guess, err := protocol.Encode(protocol.JoinRoom{RoomId: "locked", UserProfile: profile("mallory"), Password: "wrong"})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, raw.WriteMessage(websocket.TextMessage, guess))
	}

	require.NoError(t, alice.StartDrawing(&models.RectShape{Id: "r1", Opacity: 1}))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"r1"}, ids(bob.Shapes()))
	}, time.Second, tick)
}

func TestSession_PushesCachedCanvasToEmptyRoom(t *testing.T) {
	ts := startServer(t, 5)

	cache := client.NewMemoryCache()
	require.NoError(t, cache.Save("board", []models.Shape{
		&models.RectShape{Id: "kept-1", Opacity: 1},
		&models.CircleShape{Id: "kept-2", Radius: 3, Opacity: 1},
	}))

	cfg := config(ts.url, "board", "alice")
	cfg.Cache = cache
	alice := dial(t, cfg)
	assertIds(t, alice, "kept-1", "kept-2")

	bob := dial(t, config(ts.url, "board", "bob"))
	assertIds(t, bob, "kept-1", "kept-2")
}

func TestSession_RestoresCachedCanvasLargerThanOneMegabyte(t *testing.T) {
	ts := startServer(t, 5)

	var cached []models.Shape
	for i := 0; i < 100; i++ {
		pts := make([]models.Point, 500)
		for j := range pts {
			pts[j] = models.Point{X: float64(j) + 0.123456789, Y: float64(i) + 0.987654321}
		}
		cached = append(cached, &models.LineShape{
			Id:          fmt.Sprintf("line-%03d", i),
			Points:      pts,
			Color:       "#000000",
			StrokeWidth: 2,
			Opacity:     1,
		})
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	require.Greater(t, len(raw), 1<<20)

	cache := client.NewMemoryCache()
	require.NoError(t, cache.Save("board", cached))
	cfg := config(ts.url, "board", "alice")
	cfg.Cache = cache
	alice := dial(t, cfg)
	aliceId := alice.ParticipantId()

	bob := dial(t, config(ts.url, "board", "bob"))
	assert.Eventually(t, func() bool { return len(bob.Shapes()) == 100 }, waitFor, tick)
	assert.Equal(t, ids(cached), ids(bob.Shapes()))
	assert.Len(t, bob.Shapes()[99].(*models.LineShape).Points, 500)

	// the push did not cost alice her connection
	assert.Equal(t, aliceId, alice.ParticipantId())
	assert.NoError(t, alice.Err())
}

func TestSession_AdoptsServerCanvasOverCache(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))
	require.NoError(t, alice.StartDrawing(&models.RectShape{Id: "server", Opacity: 1}))
	probe := dial(t, config(ts.url, "board", "probe"))
	assertIds(t, probe, "server")

	cache := client.NewMemoryCache()
	require.NoError(t, cache.Save("board", []models.Shape{&models.RectShape{Id: "stale", Opacity: 1}}))

	cfg := config(ts.url, "board", "bob")
	cfg.Cache = cache
	bob := dial(t, cfg)
	assertIds(t, bob, "server")
	assertIds(t, alice, "server")

	assert.Eventually(t, func() bool {
		cached, err := cache.Load("board")
		return err == nil && assert.ObjectsAreEqual([]string{"server"}, ids(cached))
	}, waitFor, tick)
}

func TestSession_ReconnectsWithTicket(t *testing.T) {
	ts := startServer(t, 5)

	owner := config(ts.url, "locked", "owner")
	owner.Password = "hunter2"
	bob := dial(t, owner)

	recorder := &connRecorder{}
	cfg := config(ts.url, "locked", "alice")
	cfg.Password = "hunter2"
	cfg.Dialer = recorder.dialer()
	cfg.ReconnectDelay = 20 * time.Millisecond
	alice := dial(t, cfg)
	require.NoError(t, alice.StartDrawing(&models.RectShape{Id: "r1", Opacity: 1}))
	assertIds(t, bob, "r1")

	before := alice.ParticipantId()
	recorder.last().Close()

	assert.Eventually(t, func() bool {
		id := alice.ParticipantId()
		return id != "" && id != before
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return len(bob.Participants()) == 2 }, waitFor, tick)

	require.NoError(t, alice.StartDrawing(&models.RectShape{Id: "r2", Opacity: 1}))
	assertIds(t, bob, "r1", "r2")
	assertIds(t, alice, "r1", "r2")
	assert.NoError(t, alice.Err())
}

func TestSession_RestoresRoomAfterServerLostIt(t *testing.T) {
	ts := startServer(t, 5)

	recorder := &connRecorder{}
	cfg := config(ts.url, "board", "alice")
	cfg.Dialer = recorder.dialer()
	cfg.ReconnectDelay = 20 * time.Millisecond
	alice := dial(t, cfg)
	require.NoError(t, alice.StartDrawing(&models.RectShape{Id: "r1", Opacity: 1}))

	// alice was alone, so the room is destroyed when her connection drops
	before := alice.ParticipantId()
	recorder.last().Close()
	assert.Eventually(t, func() bool {
		id := alice.ParticipantId()
		return id != "" && id != before
	}, waitFor, tick)

	bob := dial(t, config(ts.url, "board", "bob"))
	assertIds(t, bob, "r1")
}

func TestSession_GivesUpAfterReconnectAttempts(t *testing.T) {
	ts := startServer(t, 5)

	recorder := &connRecorder{}
	cfg := config(ts.url, "board", "alice")
	cfg.Dialer = recorder.dialer()
	cfg.ReconnectAttempts = 2
	cfg.ReconnectDelay = 10 * time.Millisecond
	alice := dial(t, cfg)

	ts.srv.Close()
	recorder.last().Close()

	select {
	case <-alice.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not give up")
	}
	assert.ErrorIs(t, alice.Err(), client.ErrConnectionLost)
}

func TestSession_CloseEndsCleanly(t *testing.T) {
	ts := startServer(t, 5)
	alice := dial(t, config(ts.url, "board", "alice"))

	require.NoError(t, alice.Close())
	<-alice.Done()
	assert.NoError(t, alice.Err())
	assert.ErrorIs(t, alice.Clear(), client.ErrNotConnected)
}
