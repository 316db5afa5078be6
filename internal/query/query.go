// Package query 把请求里的排序条件翻译成对目录和消息存储的查询。
package query

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/directory"
	"github.com/GRM3355/3355-backend-sub001/internal/models"
	"github.com/GRM3355/3355-backend-sub001/internal/store"
)

// RoomOrder 是房间列表的排序条件。
type RoomOrder string

const (
	RoomsByParticipantsAsc  RoomOrder = "participants_asc"
	RoomsByParticipantsDesc RoomOrder = "participants_desc"
	RoomsByActivityAsc      RoomOrder = "activity_asc"
	RoomsByActivityDesc     RoomOrder = "activity_desc"
)

// MessageOrder 是消息列表的排序条件。
type MessageOrder string

const (
	MessagesByCreatedAsc  MessageOrder = "created_asc"
	MessagesByCreatedDesc MessageOrder = "created_desc"
)

var ErrUnknownOrder = errors.New("unknown order")

// ParseRoomOrder 解析请求参数，空值回落到按活跃时间倒序。
func ParseRoomOrder(s string) (RoomOrder, error) {
	switch RoomOrder(s) {
	case "":
		return RoomsByActivityDesc, nil
	case RoomsByParticipantsAsc, RoomsByParticipantsDesc, RoomsByActivityAsc, RoomsByActivityDesc:
		return RoomOrder(s), nil
	}
	return "", ErrUnknownOrder
}

// ParseMessageOrder 解析消息排序参数，空值回落到按创建时间倒序。
func ParseMessageOrder(s string) (MessageOrder, error) {
	switch MessageOrder(s) {
	case "":
		return MessagesByCreatedDesc, nil
	case MessagesByCreatedAsc, MessagesByCreatedDesc:
		return MessageOrder(s), nil
	}
	return "", ErrUnknownOrder
}

// Facade 是目录与消息存储之上的只读查询门面。
type Facade struct {
	store *store.Store
	dir   *directory.Directory
}

func New(st *store.Store, dir *directory.Directory) *Facade {
	return &Facade{store: st, dir: dir}
}

// Rooms 返回按指定条件排序的房间列表。
// 人数或时间相同时按房间 id 升序，保证分页结果确定。
func (f *Facade) Rooms(order RoomOrder) []directory.Entry {
	entries := f.dir.All()
	less := func(a, b directory.Entry) bool { return a.LastActivity.After(b.LastActivity) }
	switch order {
	case RoomsByParticipantsAsc:
		less = func(a, b directory.Entry) bool { return a.Participants < b.Participants }
	case RoomsByParticipantsDesc:
		less = func(a, b directory.Entry) bool { return a.Participants > b.Participants }
	case RoomsByActivityAsc:
		less = func(a, b directory.Entry) bool { return a.LastActivity.Before(b.LastActivity) }
	case RoomsByActivityDesc:
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if eq(a, b, order) {
			return a.RoomID < b.RoomID
		}
		return less(a, b)
	})
	return entries
}

func eq(a, b directory.Entry, order RoomOrder) bool {
	switch order {
	case RoomsByParticipantsAsc, RoomsByParticipantsDesc:
		return a.Participants == b.Participants
	default:
		return a.LastActivity.Equal(b.LastActivity)
	}
}

// Messages 按排序方向读取房间历史，游标语义与 store.History 一致。
func (f *Facade) Messages(ctx context.Context, roomID string, before time.Time, limit int, order MessageOrder) ([]models.Message, error) {
	return f.store.History(ctx, roomID, before, limit, order == MessagesByCreatedAsc)
}
