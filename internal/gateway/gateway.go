// Package gateway 持有所有存活连接及其房间订阅，是并发的主战场。
// 消息从这里进来，经 broker 扇出到各实例，再由这里推给本地订阅者。
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/broker"
	"github.com/GRM3355/3355-backend-sub001/internal/directory"
	"github.com/GRM3355/3355-backend-sub001/internal/metrics"
	"github.com/GRM3355/3355-backend-sub001/internal/models"
	"github.com/GRM3355/3355-backend-sub001/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	appendTimeout  = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway 维护本地会话与房间订阅。对 broker 的订阅按房间引用计数：
// 同一房间的所有本地会话共用一条通道订阅，最后一个离开时才退订。
type Gateway struct {
	store  *store.Store
	dir    *directory.Directory
	broker broker.Broker

	// subMu 把“成员表变更”和随之而来的 broker 订阅/退订绑成一个原子步骤。
	// 没有它，最后一人退出和第一人加入会交错：加入方撞上幂等的 Subscribe
	// 空转返回，退出方迟到的 Unsubscribe 再把通道退掉，留下一个
	// 自以为在订阅中却收不到任何跨实例消息的会话。
	// 投递路径只拿 g.mu，永远不碰 subMu，所以持 subMu 调 broker 不会互等。
	subMu sync.Mutex

	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

func New(st *store.Store, dir *directory.Directory, br broker.Broker) *Gateway {
	return &Gateway{
		store:  st,
		dir:    dir,
		broker: br,
		rooms:  make(map[string]map[*Session]struct{}),
	}
}

// Serve 返回 WebSocket 接入的 gin handler。
// user_id / username 由外部协作方在前面校验过，这里按身份输入直接使用。
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.Query("user_id"))
		username := strings.TrimSpace(c.Query("username"))
		if userID == "" || username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and username are required"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		s := newSession(g, userID, username, conn)
		metrics.WsConnections.Inc()
		log.Debug().Str("session_id", s.id).Str("user_id", userID).Msg("session connected")

		go s.writePump()
		s.readPump()
	}
}

// handleFrame 解析并分发一条入站帧。坏帧只丢弃该帧并回一个错误帧，
// 不会影响会话本身或其他会话。
func (g *Gateway) handleFrame(s *Session, data []byte) {
	var in InboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendError("malformed frame")
		return
	}
	switch in.Action {
	case ActionJoin:
		if in.RoomID == "" {
			s.sendError("room_id is required")
			return
		}
		if err := g.subscribeRoom(s, in.RoomID); err != nil {
			log.Error().Err(err).Str("room_id", in.RoomID).Str("session_id", s.id).Msg("join room")
			s.sendError("failed to join room")
		}
	case ActionLeave:
		if roomID := s.room(); roomID != "" {
			g.unsubscribeRoom(s, roomID)
		}
	case ActionSend:
		g.handleSend(s, in)
	case ActionLike:
		g.handleLike(s, in)
	default:
		s.sendError("unknown action")
	}
}

// subscribeRoom 把会话挂进房间。已订阅其他房间时先做隐式退出，
// 一个会话同一时刻只在一个房间里。
func (g *Gateway) subscribeRoom(s *Session, roomID string) error {
	if cur := s.room(); cur == roomID {
		return nil
	} else if cur != "" {
		g.unsubscribeRoom(s, cur)
	}

	g.subMu.Lock()
	g.mu.Lock()
	sessions := g.rooms[roomID]
	first := sessions == nil
	if first {
		sessions = make(map[*Session]struct{})
		g.rooms[roomID] = sessions
	}
	sessions[s] = struct{}{}
	g.mu.Unlock()

	// broker 调用只在 subMu 下、g.mu 外进行：投递时 broker 会反过来拿 g.mu。
	if first {
		if err := g.broker.Subscribe(roomID, g.dispatch); err != nil {
			// subMu 还在手里，期间不可能有别的会话挤进这个房间，
			// 整个房间条目可以安全撤掉。
			g.mu.Lock()
			delete(g.rooms, roomID)
			g.mu.Unlock()
			g.subMu.Unlock()
			return err
		}
	}
	g.subMu.Unlock()

	s.setRoom(roomID)
	g.dir.OnSubscribe(roomID)
	g.dir.OnActivity(roomID, time.Now().UTC())
	g.broadcastPresence(roomID, "join", s)
	return nil
}

// unsubscribeRoom 把会话从房间摘掉，引用计数归零时释放通道订阅。
func (g *Gateway) unsubscribeRoom(s *Session, roomID string) {
	g.subMu.Lock()
	g.mu.Lock()
	sessions := g.rooms[roomID]
	if _, ok := sessions[s]; !ok {
		g.mu.Unlock()
		g.subMu.Unlock()
		return
	}
	delete(sessions, s)
	empty := len(sessions) == 0
	if empty {
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()

	// 退订要在 subMu 下完成，后来的加入方只能排在它之后重新建订阅。
	if empty {
		g.broker.Unsubscribe(roomID)
	}
	g.subMu.Unlock()
	s.setRoom("")
	g.dir.OnUnsubscribe(roomID)
	g.broadcastPresence(roomID, "leave", s)
}

// handleSend 处理发消息。持久化与实时广播是两条独立的路径：
// 存储失败只通知发送方，不拦住广播，反过来也一样。
func (g *Gateway) handleSend(s *Session, in InboundFrame) {
	roomID := s.room()
	if roomID == "" {
		s.sendError("not subscribed to a room")
		return
	}
	var p SendPayload
	if err := json.Unmarshal(in.Payload, &p); err != nil || strings.TrimSpace(p.Content) == "" {
		s.sendError("malformed frame")
		return
	}
	if p.Kind == "" {
		p.Kind = models.KindText
	}
	if !p.Kind.Valid() {
		s.sendError("unknown message kind")
		return
	}

	msg := models.NewMessage(roomID, s.userID, s.username, p.Content, p.Kind)

	persisted := msg
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := g.store.Append(ctx, &persisted); err != nil {
			log.Error().Err(err).Str("message_id", persisted.ID).Str("room_id", roomID).Msg("append message")
			s.sendError("message not persisted")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := g.broker.Publish(ctx, roomID, broker.NewMessageEnvelope(msg)); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Str("room_id", roomID).Msg("publish message")
		s.sendError("broadcast failed")
	}

	g.dir.OnActivity(roomID, msg.CreatedAt)
	metrics.WsMessagesTotal.Inc()
}

// handleLike 翻转点赞并把结果作为 like-delta 信封广播出去。
func (g *Gateway) handleLike(s *Session, in InboundFrame) {
	roomID := s.room()
	if roomID == "" {
		s.sendError("not subscribed to a room")
		return
	}
	var p LikePayload
	if err := json.Unmarshal(in.Payload, &p); err != nil || p.MessageID == "" {
		s.sendError("malformed frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	liked, count, err := g.store.ToggleLike(ctx, p.MessageID, s.userID)
	if errors.Is(err, store.ErrMessageNotFound) {
		s.sendError("message not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("message_id", p.MessageID).Msg("toggle like")
		s.sendError("like failed")
		return
	}
	metrics.WsLikesTotal.Inc()

	env := broker.LikeDeltaEnvelope(p.MessageID, roomID, s.userID, liked, count)
	pctx, pcancel := context.WithTimeout(context.Background(), publishTimeout)
	defer pcancel()
	if err := g.broker.Publish(pctx, roomID, env); err != nil {
		log.Error().Err(err).Str("message_id", p.MessageID).Msg("publish like delta")
		s.sendError("broadcast failed")
	}
}

// dispatch 把通道送达的信封推给本房间的所有本地会话。
// broker 对同一房间串行回调，所以这里的遍历顺序不会打乱每个会话看到的顺序。
func (g *Gateway) dispatch(env broker.Envelope) {
	b, ok := frameFromEnvelope(env)
	if !ok {
		log.Warn().Str("op", string(env.Op)).Msg("drop envelope with unknown op")
		return
	}
	g.mu.RLock()
	sessions := g.rooms[env.RoomID]
	for s := range sessions {
		s.trySend(b)
	}
	g.mu.RUnlock()
}

// broadcastPresence 向房间内的本地会话通报加入/离开，仅本实例可见。
func (g *Gateway) broadcastPresence(roomID, event string, who *Session) {
	b := mustJSON(presenceFrame{
		Type:     framePresence,
		Event:    event,
		RoomID:   roomID,
		UserID:   who.userID,
		Username: who.username,
		Online:   g.dir.Snapshot(roomID).Participants,
	})
	g.mu.RLock()
	for s := range g.rooms[roomID] {
		s.trySend(b)
	}
	g.mu.RUnlock()
}

// disconnect 是会话清理的唯一出口，由 readPump 退出时触发。
// 会话最后一次 send 触发的落盘允许继续完成，不随连接中断而取消。
func (g *Gateway) disconnect(s *Session) {
	if roomID := s.room(); roomID != "" {
		g.unsubscribeRoom(s, roomID)
	}
	metrics.WsConnections.Dec()
	log.Debug().Str("session_id", s.id).Str("user_id", s.userID).Msg("session closed")
}
