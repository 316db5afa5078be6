package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/broker"
	"github.com/GRM3355/3355-backend-sub001/internal/directory"
	"github.com/GRM3355/3355-backend-sub001/internal/models"
	"github.com/GRM3355/3355-backend-sub001/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// instance bundles one simulated server instance: its own gateway and
// directory, attached to a shared bus and a shared store.
type instance struct {
	gw  *Gateway
	dir *directory.Directory
	srv *httptest.Server
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chat.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&models.Message{}, &models.MessageLike{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(gdb)
}

func newInstance(t *testing.T, st *store.Store, bus *broker.MemBus) *instance {
	return newInstanceWithBroker(t, st, bus.NewAdapter())
}

func newInstanceWithBroker(t *testing.T, st *store.Store, br broker.Broker) *instance {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := directory.New()
	gw := New(st, dir, br)
	r := gin.New()
	r.GET("/ws", gw.Serve())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &instance{gw: gw, dir: dir, srv: srv}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, inst *instance, userID, username string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(inst.srv.URL, "http") +
		"/ws?user_id=" + userID + "&username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) write(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write frame: %v", err)
	}
}

func (c *client) join(roomID string) {
	c.t.Helper()
	c.write(InboundFrame{Action: ActionJoin, RoomID: roomID})
	c.expect(framePresence)
}

// expect reads frames until one of the wanted type arrives, skipping
// presence noise from other clients.
func (c *client) expect(frameType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %q frame: %v", frameType, err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			c.t.Fatalf("bad frame %s: %v", data, err)
		}
		if frame["type"] == frameType {
			return frame
		}
		if frame["type"] == frameError {
			c.t.Fatalf("unexpected error frame while waiting for %q: %v", frameType, frame["error"])
		}
	}
}

func payload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestCrossInstanceFanOut(t *testing.T) {
	st := newTestStore(t)
	bus := broker.NewMemBus()
	inst1 := newInstance(t, st, bus)
	inst2 := newInstance(t, st, bus)

	a := dial(t, inst1, "u-a", "Alice")
	b := dial(t, inst2, "u-b", "Bob")
	a.join("R1")
	b.join("R1")

	// A sends on instance 1; B, served by instance 2, must still see it.
	a.write(InboundFrame{Action: ActionSend, Payload: payload(SendPayload{Content: "hi", Kind: models.KindText})})

	got := b.expect(frameMessage)
	if got["content"] != "hi" || got["room_id"] != "R1" || got["username"] != "Alice" {
		t.Fatalf("message frame = %v, want content hi in R1 from Alice", got)
	}
	msgID, _ := got["id"].(string)
	if msgID == "" {
		t.Fatal("message frame has no id")
	}
	// The sender's own instance echoes it too.
	if own := a.expect(frameMessage); own["id"] != msgID {
		t.Fatalf("sender echo id = %v, want %v", own["id"], msgID)
	}

	// The durable path runs independently; wait for it to land.
	waitFor(t, "message persisted", func() bool {
		msgs, err := st.History(context.Background(), "R1", time.Time{}, 10, false)
		return err == nil && len(msgs) == 1
	})
	msgs, _ := st.History(context.Background(), "R1", time.Time{}, 10, false)
	if msgs[0].ID != msgID || msgs[0].Content != "hi" || msgs[0].LikeCount != 0 {
		t.Fatalf("stored message = %+v, want id %s content hi like count 0", msgs[0], msgID)
	}

	// B likes the message; A receives the like update across instances.
	b.write(InboundFrame{Action: ActionLike, Payload: payload(LikePayload{MessageID: msgID})})
	upd := a.expect(frameLikeUpdate)
	if upd["message_id"] != msgID || upd["liked"] != true || upd["like_count"] != float64(1) {
		t.Fatalf("likeUpdate frame = %v, want liked=true count=1 for %s", upd, msgID)
	}

	ids, err := st.LikedBy(context.Background(), msgID)
	if err != nil || len(ids) != 1 || ids[0] != "u-b" {
		t.Fatalf("LikedBy() = %v (err %v), want [u-b]", ids, err)
	}
}

func TestPerRoomDeliveryOrder(t *testing.T) {
	st := newTestStore(t)
	bus := broker.NewMemBus()
	inst1 := newInstance(t, st, bus)
	inst2 := newInstance(t, st, bus)

	a := dial(t, inst1, "u-a", "Alice")
	b := dial(t, inst2, "u-b", "Bob")
	a.join("R1")
	b.join("R1")

	const n = 10
	for i := 0; i < n; i++ {
		a.write(InboundFrame{Action: ActionSend, Payload: payload(SendPayload{Content: fmt.Sprintf("m%d", i)})})
	}
	for i := 0; i < n; i++ {
		got := b.expect(frameMessage)
		if want := fmt.Sprintf("m%d", i); got["content"] != want {
			t.Fatalf("delivery %d = %v, want %s (subscriber must observe send order)", i, got["content"], want)
		}
	}
}

func TestSendWithoutRoomIsRejected(t *testing.T) {
	st := newTestStore(t)
	inst := newInstance(t, st, broker.NewMemBus())

	c := dial(t, inst, "u-c", "Carol")
	c.write(InboundFrame{Action: ActionSend, Payload: payload(SendPayload{Content: "hello?"})})

	deadline := time.Now().Add(3 * time.Second)
	_ = c.conn.SetReadDeadline(deadline)
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]any
	_ = json.Unmarshal(data, &frame)
	if frame["type"] != frameError {
		t.Fatalf("frame = %v, want error frame", frame)
	}

	// The session stays alive: joining afterwards works.
	c.join("R1")
	if got := inst.dir.Snapshot("R1").Participants; got != 1 {
		t.Errorf("Participants = %d, want 1", got)
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	st := newTestStore(t)
	inst := newInstance(t, st, broker.NewMemBus())

	c := dial(t, inst, "u-c", "Carol")
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]any
	_ = json.Unmarshal(data, &frame)
	if frame["type"] != frameError {
		t.Fatalf("frame = %v, want error frame", frame)
	}

	// Only the frame is dropped; the connection keeps working.
	c.join("R1")
}

func TestImplicitLeaveOnRoomSwitch(t *testing.T) {
	st := newTestStore(t)
	inst := newInstance(t, st, broker.NewMemBus())

	c := dial(t, inst, "u-c", "Carol")
	c.join("R1")
	if got := inst.dir.Snapshot("R1").Participants; got != 1 {
		t.Fatalf("Participants(R1) = %d, want 1", got)
	}

	// Joining R2 implies leaving R1.
	c.join("R2")
	if got := inst.dir.Snapshot("R1").Participants; got != 0 {
		t.Errorf("Participants(R1) after switch = %d, want 0", got)
	}
	if got := inst.dir.Snapshot("R2").Participants; got != 1 {
		t.Errorf("Participants(R2) = %d, want 1", got)
	}
}

func TestDisconnectReleasesRoom(t *testing.T) {
	st := newTestStore(t)
	inst := newInstance(t, st, broker.NewMemBus())

	c := dial(t, inst, "u-c", "Carol")
	c.join("R1")
	c.conn.Close()

	waitFor(t, "participant count to drop", func() bool {
		return inst.dir.Snapshot("R1").Participants == 0
	})
}

// holdingBroker delays the first Unsubscribe until released, widening the
// window between the last leaver and the next joiner of the same room.
type holdingBroker struct {
	broker.Broker
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *holdingBroker) Unsubscribe(roomID string) {
	h.once.Do(func() {
		close(h.entered)
		<-h.release
	})
	h.Broker.Unsubscribe(roomID)
}

// A session joining a room while the previous last occupant's unsubscribe is
// still in flight must end up with a live channel subscription, not a stale
// one the trailing unsubscribe then tears down.
func TestJoinDuringRoomReleaseKeepsFanOut(t *testing.T) {
	st := newTestStore(t)
	bus := broker.NewMemBus()
	hold := &holdingBroker{
		Broker:  bus.NewAdapter(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	inst := newInstanceWithBroker(t, st, hold)

	c1 := dial(t, inst, "u-1", "One")
	c2 := dial(t, inst, "u-2", "Two")
	c1.join("R1")

	// c1 leaves; its unsubscribe parks inside the broker.
	c1.write(InboundFrame{Action: ActionLeave})
	select {
	case <-hold.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("unsubscribe never reached the broker")
	}

	// c2 joins the same room while the unsubscribe is still pending,
	// then the pending unsubscribe lands.
	c2.write(InboundFrame{Action: ActionJoin, RoomID: "R1"})
	time.Sleep(50 * time.Millisecond)
	close(hold.release)
	c2.expect(framePresence)

	// A publish from another instance on the shared bus must reach c2.
	other := bus.NewAdapter()
	msg := models.NewMessage("R1", "u-x", "Xena", "still wired", models.KindText)
	if err := other.Publish(context.Background(), "R1", broker.NewMessageEnvelope(msg)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got := c2.expect(frameMessage)
	if got["content"] != "still wired" {
		t.Fatalf("message frame = %v, want cross-instance publish after rejoin", got)
	}
}

func TestLeaveRoomFrame(t *testing.T) {
	st := newTestStore(t)
	inst := newInstance(t, st, broker.NewMemBus())

	c := dial(t, inst, "u-c", "Carol")
	c.join("R1")
	c.write(InboundFrame{Action: ActionLeave})

	waitFor(t, "leave to be processed", func() bool {
		return inst.dir.Snapshot("R1").Participants == 0
	})

	// Sending after leaving is an invalid session state again.
	c.write(InboundFrame{Action: ActionSend, Payload: payload(SendPayload{Content: "ghost"})})
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]any
	_ = json.Unmarshal(data, &frame)
	if frame["type"] != frameError {
		t.Fatalf("frame = %v, want error frame after leaving", frame)
	}
}
