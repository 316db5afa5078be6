package broker

import (
	"context"
	"sync"

	"github.com/GRM3355/3355-backend-sub001/internal/metrics"
)

// MemBus 是进程内的共享通道，单实例部署时替代 Redis。
// 多个 Adapter 挂在同一条 MemBus 上即可模拟多实例扇出，测试也依赖这一点。
type MemBus struct {
	mu    sync.RWMutex
	rooms map[string]*memRoom
}

// memRoom 持有房间级别的投递锁：投递在锁内逐个完成，
// 因此同一房间的信封对所有订阅者都是同一顺序。
type memRoom struct {
	mu   sync.Mutex
	subs map[*MemAdapter]DeliverFunc
}

func NewMemBus() *MemBus {
	return &MemBus{rooms: make(map[string]*memRoom)}
}

// NewAdapter 在总线上挂一个新的适配器，对应一台服务实例。
func (b *MemBus) NewAdapter() *MemAdapter {
	return &MemAdapter{bus: b, rooms: make(map[string]struct{})}
}

func (b *MemBus) room(roomID string) *memRoom {
	b.mu.RLock()
	r := b.rooms[roomID]
	b.mu.RUnlock()
	if r != nil {
		return r
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r = b.rooms[roomID]; r != nil {
		return r
	}
	r = &memRoom{subs: make(map[*MemAdapter]DeliverFunc)}
	b.rooms[roomID] = r
	return r
}

func (b *MemBus) publish(roomID string, env Envelope) {
	r := b.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fn := range r.subs {
		fn(env)
	}
}

// MemAdapter 实现 Broker，代表总线上的一个订阅端。
type MemAdapter struct {
	bus   *MemBus
	mu    sync.Mutex
	rooms map[string]struct{}
}

func (a *MemAdapter) Publish(ctx context.Context, roomID string, env Envelope) error {
	metrics.BrokerPublishedTotal.WithLabelValues(string(env.Op)).Inc()
	a.bus.publish(roomID, env)
	return nil
}

func (a *MemAdapter) Subscribe(roomID string, fn DeliverFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rooms[roomID]; ok {
		return nil
	}
	a.rooms[roomID] = struct{}{}

	r := a.bus.room(roomID)
	r.mu.Lock()
	r.subs[a] = func(env Envelope) {
		metrics.BrokerDeliveredTotal.WithLabelValues(string(env.Op)).Inc()
		fn(env)
	}
	r.mu.Unlock()
	return nil
}

func (a *MemAdapter) Unsubscribe(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rooms[roomID]; !ok {
		return
	}
	delete(a.rooms, roomID)

	r := a.bus.room(roomID)
	r.mu.Lock()
	delete(r.subs, a)
	r.mu.Unlock()
}

func (a *MemAdapter) Close() error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.rooms))
	for id := range a.rooms {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.Unsubscribe(id)
	}
	return nil
}
