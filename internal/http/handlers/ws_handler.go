package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/admissions-portal/backend/internal/events"
	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/notifications"
	"github.com/admissions-portal/backend/internal/presence"
	"github.com/admissions-portal/backend/internal/viewers"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PresenceRegistry interface {
	viewers.Registry
	Heartbeat(ctx context.Context, sub *presence.Subscription) error
}

type NotificationFeed interface {
	notifications.Service
	Watch(ctx context.Context, adminID uuid.UUID, handler func(events.NotificationsChanged)) error
}

const (
	maxChannelKeyLen = 128
	wsActionTimeout  = 10 * time.Second
)

// WSHub serves the /ws stream: presence channels, the viewers of the open
// application and the notification inbox of the connected admin.
type WSHub struct {
	presence PresenceRegistry
	feed     NotificationFeed
	log      *zap.Logger
}

func NewWSHub(presence PresenceRegistry, feed NotificationFeed, log *zap.Logger) *WSHub {
	return &WSHub{presence: presence, feed: feed, log: log}
}

// WSUpgradeMiddleware rejects plain HTTP requests to the socket endpoint.
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

type wsSession struct {
	hub      *WSHub
	conn     *websocket.Conn
	identity models.AdminIdentity
	tracker  *viewers.Tracker
	inbox    *notifications.Inbox

	writeMu sync.Mutex
	subsMu  sync.Mutex
	subs    map[string]*presence.Subscription
	pumps   sync.WaitGroup
}

// HandleWS runs one connection. The auth middleware has already stored the
// identity in the connection locals.
func (h *WSHub) HandleWS(conn *websocket.Conn) {
	identity, ok := conn.Locals(middleware.CtxIdentity).(models.AdminIdentity)
	if !ok || identity.ID == uuid.Nil {
		_ = conn.WriteJSON(dto.WSServerMessage{Type: "error", Error: "unauthorized"})
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSession{
		hub:      h,
		conn:     conn,
		identity: identity,
		tracker:  viewers.NewTracker(h.presence, h.log),
		inbox:    notifications.NewInbox(h.feed, identity.ID),
		subs:     make(map[string]*presence.Subscription),
	}

	go s.pumpViewers(ctx)
	s.startInbox(ctx)

	graceful := s.readLoop(ctx)

	cancel()
	s.release(graceful)
	s.pumps.Wait()
	conn.Close()
}

// readLoop returns true when the client closed the socket on purpose.
func (s *wsSession) readLoop(ctx context.Context) bool {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
		}
		var msg dto.WSClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}
		actionCtx, cancel := context.WithTimeout(ctx, wsActionTimeout)
		err = s.dispatch(actionCtx, msg)
		cancel()
		if err != nil {
			s.sendError(err.Error())
		}
	}
}

var errUnknownAction = errors.New("unknown action")

func (s *wsSession) dispatch(ctx context.Context, msg dto.WSClientMessage) error {
	switch msg.Action {
	case "join":
		return s.join(ctx, msg.Channel)
	case "leave":
		return s.leave(ctx, msg.Channel)
	case "heartbeat":
		return s.heartbeat(ctx, msg.Channel)
	case "watch":
		id, err := uuid.Parse(msg.ApplicationID)
		if err != nil {
			return errors.New("invalid application_id")
		}
		snap, err := s.tracker.Watch(ctx, id, s.identity)
		if err != nil {
			return err
		}
		s.send(dto.WSServerMessage{Type: "viewers", Data: snap})
		return nil
	case "unwatch":
		s.tracker.Unwatch(ctx)
		return nil
	case "read":
		id, err := uuid.Parse(msg.NotificationID)
		if err != nil {
			return errors.New("invalid notification_id")
		}
		return s.applyInbox(s.inbox.MarkRead(ctx, id))
	case "read_all":
		return s.applyInbox(s.inbox.MarkAllRead(ctx))
	default:
		return errUnknownAction
	}
}

// validChannel keeps application viewer channels behind watch / unwatch.
func validChannel(key string) bool {
	return key != "" && len(key) <= maxChannelKeyLen && !strings.HasPrefix(key, viewers.ChannelPrefix)
}

func (s *wsSession) join(ctx context.Context, key string) error {
	if !validChannel(key) {
		return errors.New("invalid channel")
	}
	s.subsMu.Lock()
	_, joined := s.subs[key]
	s.subsMu.Unlock()
	if joined {
		return nil
	}

	sub, err := s.hub.presence.Join(ctx, key, s.identity)
	if err != nil {
		return err
	}
	if sub.Err() != nil {
		s.send(dto.WSServerMessage{Type: "presence", Error: "presence unavailable"})
		return nil
	}

	s.subsMu.Lock()
	s.subs[key] = sub
	s.subsMu.Unlock()

	s.pumps.Add(1)
	go func() {
		defer s.pumps.Done()
		for ev := range sub.Events() {
			s.send(dto.WSServerMessage{Type: "presence", Data: ev})
		}
	}()

	if members, err := s.hub.presence.Snapshot(ctx, key); err == nil {
		s.send(dto.WSServerMessage{Type: "presence", Data: presence.Event{Kind: presence.EventSync, Channel: key, Members: members}})
	}
	return nil
}

func (s *wsSession) take(key string) *presence.Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	sub := s.subs[key]
	delete(s.subs, key)
	return sub
}

func (s *wsSession) leave(ctx context.Context, key string) error {
	sub := s.take(key)
	if sub == nil {
		return nil
	}
	return s.hub.presence.Leave(ctx, sub)
}

func (s *wsSession) heartbeat(ctx context.Context, key string) error {
	s.subsMu.Lock()
	sub := s.subs[key]
	s.subsMu.Unlock()
	if sub == nil {
		return errors.New("not joined")
	}
	return s.hub.presence.Heartbeat(ctx, sub)
}

// release ends every membership. A clean close leaves at once; a dropped
// connection keeps its records for the registry's grace period.
func (s *wsSession) release(graceful bool) {
	s.subsMu.Lock()
	subs := s.subs
	s.subs = make(map[string]*presence.Subscription)
	s.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()
	for _, sub := range subs {
		if graceful {
			if err := s.hub.presence.Leave(ctx, sub); err != nil {
				s.hub.log.Debug("presence leave failed", zap.String("channel", sub.Channel()), zap.Error(err))
			}
		} else {
			s.hub.presence.Disconnect(sub)
		}
	}
	if graceful {
		s.tracker.Unwatch(ctx)
	} else {
		s.tracker.Disconnect()
	}
}

func (s *wsSession) pumpViewers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.tracker.Updates():
			s.send(dto.WSServerMessage{Type: "viewers", Data: snap})
		}
	}
}

func (s *wsSession) startInbox(ctx context.Context) {
	if err := s.inbox.Refresh(ctx); err != nil {
		s.hub.log.Warn("inbox load failed", zap.String("admin_id", s.identity.ID.String()), zap.Error(err))
	}
	s.sendInbox()

	err := s.hub.feed.Watch(ctx, s.identity.ID, func(events.NotificationsChanged) {
		if err := s.inbox.Refresh(ctx); err != nil {
			s.hub.log.Warn("inbox refresh failed", zap.Error(err))
			return
		}
		s.sendInbox()
	})
	if err != nil {
		s.hub.log.Warn("notification feed unavailable", zap.String("admin_id", s.identity.ID.String()), zap.Error(err))
	}
}

func (s *wsSession) applyInbox(err error) error {
	s.sendInbox()
	return err
}

func (s *wsSession) sendInbox() {
	s.send(dto.WSServerMessage{Type: "notifications", Data: dto.NotificationsResponse{
		Items:       s.inbox.Items(),
		UnreadCount: s.inbox.UnreadCount(),
	}})
}

func (s *wsSession) sendError(msg string) {
	s.send(dto.WSServerMessage{Type: "error", Error: msg})
}

func (s *wsSession) send(msg dto.WSServerMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.hub.log.Debug("ws write failed", zap.String("admin_id", s.identity.ID.String()), zap.Error(err))
	}
}
