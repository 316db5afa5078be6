package directory

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry 是某个房间的即时快照。
type Entry struct {
	RoomID       string    `json:"room_id"`
	Participants int       `json:"participants"`
	LastActivity time.Time `json:"last_activity"`
}

type room struct {
	mu           sync.Mutex
	participants int
	lastActivity time.Time
}

// Directory 维护每个房间的在线人数和最近活跃时间。
// 每个房间各自持锁，不同房间的更新互不竞争。
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func New() *Directory {
	return &Directory{rooms: make(map[string]*room)}
}

// getOrCreate 懒加载房间条目，房间由外部协作方创建，这里只负责观察。
func (d *Directory) getOrCreate(roomID string) *room {
	d.mu.RLock()
	r := d.rooms[roomID]
	d.mu.RUnlock()
	if r != nil {
		return r
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if r = d.rooms[roomID]; r != nil {
		return r
	}
	r = &room{}
	d.rooms[roomID] = r
	return r
}

// OnSubscribe 在有会话订阅房间时调用。
func (d *Directory) OnSubscribe(roomID string) {
	r := d.getOrCreate(roomID)
	r.mu.Lock()
	r.participants++
	r.mu.Unlock()
}

// OnUnsubscribe 在会话离开房间时调用。计数在零处截断：
// 多余的一次退订属于上游逻辑错误，记一条日志但不作为致命问题。
func (d *Directory) OnUnsubscribe(roomID string) {
	r := d.getOrCreate(roomID)
	r.mu.Lock()
	if r.participants == 0 {
		r.mu.Unlock()
		log.Warn().Str("room_id", roomID).Msg("unsubscribe on empty room")
		return
	}
	r.participants--
	r.mu.Unlock()
}

// OnActivity 单调推进房间的最近活跃时间，乱序到达的旧事件不会把时间拨回去。
func (d *Directory) OnActivity(roomID string, at time.Time) {
	r := d.getOrCreate(roomID)
	r.mu.Lock()
	if at.After(r.lastActivity) {
		r.lastActivity = at
	}
	r.mu.Unlock()
}

// Snapshot 返回房间当下的状态。未知房间返回零值条目。
func (d *Directory) Snapshot(roomID string) Entry {
	d.mu.RLock()
	r := d.rooms[roomID]
	d.mu.RUnlock()
	if r == nil {
		return Entry{RoomID: roomID}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Entry{RoomID: roomID, Participants: r.participants, LastActivity: r.lastActivity}
}

// All 返回所有已知房间的快照，顺序不保证，由查询层负责排序。
func (d *Directory) All() []Entry {
	d.mu.RLock()
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.Snapshot(id))
	}
	return out
}
