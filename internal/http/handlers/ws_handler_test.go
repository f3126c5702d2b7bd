package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/admissions-portal/backend/internal/events"
	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/presence"
	"github.com/admissions-portal/backend/internal/viewers"
	"github.com/alicebob/miniredis/v2"
	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type silentFeed struct{ *fakeNotifications }

func (silentFeed) Watch(context.Context, uuid.UUID, func(events.NotificationsChanged)) error {
	return nil
}

type wsServer struct {
	addr     string
	registry *presence.Registry
	admins   map[string]models.AdminIdentity
}

// startWSServer serves the hub on a real listener. Clients pick their
// identity with ?as=<name>.
func startWSServer(t *testing.T, grace time.Duration, names ...string) *wsServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := zap.NewNop()
	reg := presence.NewRegistry(
		presence.NewRedisStore(client, time.Minute),
		events.NewRedisPublisher(client, log),
		events.NewRedisSubscriber(client, log),
		grace,
		log,
	)

	srv := &wsServer{registry: reg, admins: make(map[string]models.AdminIdentity)}
	for _, name := range names {
		srv.admins[name] = models.AdminIdentity{ID: uuid.New(), Email: name + "@example.com", Role: "reviewer"}
	}

	hub := NewWSHub(reg, silentFeed{&fakeNotifications{}}, log)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws", WSUpgradeMiddleware(), func(c *fiber.Ctx) error {
		identity, ok := srv.admins[c.Query("as")]
		if !ok {
			return fiber.ErrUnauthorized
		}
		c.Locals(middleware.CtxIdentity, identity)
		return c.Next()
	})
	app.Get("/ws", websocket.New(hub.HandleWS))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	srv.addr = ln.Addr().String()

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = reg.Close()
		_ = client.Close()
	})
	return srv
}

func (s *wsServer) dial(t *testing.T, name string) *fws.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: s.addr, Path: "/ws", RawQuery: "as=" + name}
	conn, _, err := fws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", name, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wsFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func send(t *testing.T, conn *fws.Conn, msg dto.WSClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames of kind until match accepts one.
func readUntil[T any](t *testing.T, conn *fws.Conn, kind string, match func(T) bool) T {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s frame: %v", kind, err)
		}
		if f.Type != kind || len(f.Data) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(f.Data, &v); err != nil {
			t.Fatalf("decode %s frame: %v", kind, err)
		}
		if match(v) {
			return v
		}
	}
}

func presenceWith(n int) func(presence.Event) bool {
	return func(ev presence.Event) bool { return len(ev.Members) == n }
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (s *wsServer) members(channel string) int {
	members, err := s.registry.Snapshot(context.Background(), channel)
	if err != nil {
		return -1
	}
	return len(members)
}

func TestWSCleanCloseLeavesAtOnce(t *testing.T) {
	srv := startWSServer(t, time.Minute, "alice", "bob")
	alice, bob := srv.dial(t, "alice"), srv.dial(t, "bob")

	send(t, alice, dto.WSClientMessage{Action: "join", Channel: "admin-presence"})
	readUntil(t, alice, "presence", presenceWith(1))
	send(t, bob, dto.WSClientMessage{Action: "join", Channel: "admin-presence"})
	readUntil(t, alice, "presence", presenceWith(2))

	err := bob.WriteMessage(fws.CloseMessage, fws.FormatCloseMessage(fws.CloseNormalClosure, ""))
	if err != nil {
		t.Fatalf("close frame: %v", err)
	}

	ev := readUntil(t, alice, "presence", presenceWith(1))
	if ev.Members[0].Admin.ID != srv.admins["alice"].ID {
		t.Errorf("remaining member = %s, want alice", ev.Members[0].Admin.Email)
	}
	if n := srv.members("admin-presence"); n != 1 {
		t.Errorf("stored members = %d, want 1", n)
	}
}

func TestWSDroppedConnectionKeepsRecordForGrace(t *testing.T) {
	grace := 600 * time.Millisecond
	srv := startWSServer(t, grace, "alice", "bob")
	alice, bob := srv.dial(t, "alice"), srv.dial(t, "bob")

	send(t, alice, dto.WSClientMessage{Action: "join", Channel: "admin-presence"})
	readUntil(t, alice, "presence", presenceWith(1))
	send(t, bob, dto.WSClientMessage{Action: "join", Channel: "admin-presence"})
	readUntil(t, alice, "presence", presenceWith(2))

	// no close frame: the socket just goes away
	if err := bob.UnderlyingConn().Close(); err != nil {
		t.Fatalf("drop: %v", err)
	}

	time.Sleep(grace / 3)
	if n := srv.members("admin-presence"); n != 2 {
		t.Fatalf("members right after drop = %d, want 2", n)
	}

	readUntil(t, alice, "presence", presenceWith(1))
	eventually(t, "dropped record to expire", func() bool { return srv.members("admin-presence") == 1 })
}

func TestWSWatchMovesBetweenApplications(t *testing.T) {
	srv := startWSServer(t, time.Minute, "alice", "bob")
	alice, bob := srv.dial(t, "alice"), srv.dial(t, "bob")
	appA, appB := uuid.New(), uuid.New()
	bobID := srv.admins["bob"].ID

	send(t, alice, dto.WSClientMessage{Action: "watch", ApplicationID: appA.String()})
	readUntil(t, alice, "viewers", func(s viewers.Snapshot) bool { return s.ApplicationID == appA })

	send(t, bob, dto.WSClientMessage{Action: "watch", ApplicationID: appA.String()})
	readUntil(t, alice, "viewers", func(s viewers.Snapshot) bool {
		return s.ApplicationID == appA && len(s.OthersOnly) == 1 && s.OthersOnly[0].ID == bobID
	})

	send(t, bob, dto.WSClientMessage{Action: "watch", ApplicationID: appB.String()})
	snap := readUntil(t, bob, "viewers", func(s viewers.Snapshot) bool { return s.ApplicationID == appB })
	if len(snap.OthersOnly) != 0 {
		t.Errorf("bob sees others on B: %+v", snap.OthersOnly)
	}

	readUntil(t, alice, "viewers", func(s viewers.Snapshot) bool {
		return s.ApplicationID == appA && len(s.OthersOnly) == 0
	})
	if n := srv.members(viewers.ChannelKey(appA)); n != 1 {
		t.Errorf("viewers of A = %d, want 1", n)
	}
	if n := srv.members(viewers.ChannelKey(appB)); n != 1 {
		t.Errorf("viewers of B = %d, want 1", n)
	}
}

func TestWSRejectsViewerChannelJoin(t *testing.T) {
	srv := startWSServer(t, time.Minute, "alice")
	alice := srv.dial(t, "alice")

	send(t, alice, dto.WSClientMessage{Action: "join", Channel: viewers.ChannelKey(uuid.New())})
	_ = alice.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f wsFrame
		if err := alice.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if f.Type == "error" {
			if f.Error != "invalid channel" {
				t.Errorf("error = %q, want invalid channel", f.Error)
			}
			return
		}
	}
}
