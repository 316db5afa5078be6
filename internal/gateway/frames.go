package gateway

import (
	"encoding/json"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/broker"
	"github.com/GRM3355/3355-backend-sub001/internal/models"
)

// Action 是入站帧的动作标记。
type Action string

const (
	ActionJoin  Action = "join"
	ActionSend  Action = "send"
	ActionLike  Action = "like"
	ActionLeave Action = "leaveRoom"
)

// InboundFrame 是客户端发来的帧：{action, room_id, payload}。
type InboundFrame struct {
	Action  Action          `json:"action"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendPayload 是 send 动作的载荷。
type SendPayload struct {
	Content string             `json:"content"`
	Kind    models.MessageKind `json:"kind,omitempty"`
}

// LikePayload 是 like 动作的载荷。
type LikePayload struct {
	MessageID string `json:"message_id"`
}

// 出站帧类型。
const (
	frameMessage    = "message"
	frameLikeUpdate = "likeUpdate"
	framePresence   = "presence"
	frameError      = "error"
)

type messageFrame struct {
	Type      string             `json:"type"`
	ID        string             `json:"id"`
	RoomID    string             `json:"room_id"`
	UserID    string             `json:"user_id"`
	Username  string             `json:"username"`
	Content   string             `json:"content"`
	Kind      models.MessageKind `json:"kind"`
	LikeCount int                `json:"like_count"`
	CreatedAt time.Time          `json:"created_at"`
}

type likeUpdateFrame struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"like_count"`
}

type presenceFrame struct {
	Type     string `json:"type"`
	Event    string `json:"event"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Online   int    `json:"online"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// frameFromEnvelope 把通道上收到的信封翻译成推送给客户端的帧。
func frameFromEnvelope(env broker.Envelope) ([]byte, bool) {
	switch env.Op {
	case broker.OpNew:
		return mustJSON(messageFrame{
			Type:      frameMessage,
			ID:        env.MessageID,
			RoomID:    env.RoomID,
			UserID:    env.UserID,
			Username:  env.Username,
			Content:   env.Content,
			Kind:      env.Kind,
			LikeCount: env.LikeCount,
			CreatedAt: env.CreatedAt,
		}), true
	case broker.OpLikeDelta:
		return mustJSON(likeUpdateFrame{
			Type:      frameLikeUpdate,
			RoomID:    env.RoomID,
			MessageID: env.MessageID,
			UserID:    env.UserID,
			Liked:     env.Liked,
			LikeCount: env.LikeCount,
		}), true
	}
	return nil, false
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
