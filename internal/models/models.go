package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind 表示消息的类型。
type MessageKind string

const (
	KindText  MessageKind = "TEXT"
	KindImage MessageKind = "IMAGE"
)

// Valid 检查消息类型是否在允许范围内。
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage:
		return true
	}
	return false
}

// Message 是一条聊天消息的持久化记录。
// LikeCount 与 message_likes 中的行数保持一致，二者只在同一事务内一起变更。
type Message struct {
	ID        string      `gorm:"primaryKey;size:36"`
	RoomID    string      `gorm:"index:idx_msg_room_created,priority:1;size:64;not null"`
	UserID    string      `gorm:"size:64;not null"`
	Username  string      `gorm:"size:64;not null"`
	Content   string      `gorm:"type:text;not null"`
	Kind      MessageKind `gorm:"size:16;not null;default:TEXT"`
	LikeCount int         `gorm:"not null;default:0"`
	CreatedAt time.Time   `gorm:"index:idx_msg_room_created,priority:2"`
}

// MessageLike 记录某个用户对某条消息的点赞，联合主键保证每人最多一条。
type MessageLike struct {
	MessageID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

// NewMessage 在入口处就分配 ID 和时间戳，
// 这样持久化和广播两条路径可以各自独立进行。
func NewMessage(roomID, userID, username, content string, kind MessageKind) Message {
	return Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Content:   content,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}
