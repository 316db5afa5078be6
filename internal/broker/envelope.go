package broker

import (
	"encoding/json"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/models"
)

// Op 标记信封承载的事件种类。
type Op string

const (
	OpNew       Op = "new"
	OpLikeDelta Op = "like-delta"
)

// Envelope 是消息事件在扇出通道上的线格式：
// 一条消息的规范字段加上操作标记。
type Envelope struct {
	Op        Op                 `json:"op"`
	MessageID string             `json:"message_id"`
	RoomID    string             `json:"room_id"`
	UserID    string             `json:"user_id"`
	Username  string             `json:"username,omitempty"`
	Content   string             `json:"content,omitempty"`
	Kind      models.MessageKind `json:"kind,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Liked     bool               `json:"liked,omitempty"`
	LikeCount int                `json:"like_count"`
}

// NewMessageEnvelope 由一条消息构造 new 信封。
func NewMessageEnvelope(m models.Message) Envelope {
	return Envelope{
		Op:        OpNew,
		MessageID: m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt,
		LikeCount: m.LikeCount,
	}
}

// LikeDeltaEnvelope 构造点赞状态变更的信封。
func LikeDeltaEnvelope(messageID, roomID, userID string, liked bool, count int) Envelope {
	return Envelope{
		Op:        OpLikeDelta,
		MessageID: messageID,
		RoomID:    roomID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Liked:     liked,
		LikeCount: count,
	}
}

func (e Envelope) encode() ([]byte, error) { return json.Marshal(e) }

func decodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}
