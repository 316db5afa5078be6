package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	channelPrefix = "chat:room:"
	maxBackoff    = 30 * time.Second
)

func channelKey(roomID string) string { return channelPrefix + roomID }

// pubsubStream 是接收循环依赖的最小订阅面，*redis.PubSub 天然满足。
// 抽出来是为了能注入一个会断的流来验证重连路径。
type pubsubStream interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisBroker 用 Redis pub/sub 做跨实例扇出，每个房间一条逻辑通道。
// 连接断开时指数退避重连并补发订阅；中断窗口内的消息不补投，
// 客户端靠历史接口追平，这是明确的 at-most-once 语义。
type RedisBroker struct {
	rdb         *redis.Client
	subscribe   func(ctx context.Context, channel string) pubsubStream
	baseBackoff time.Duration

	mu     sync.Mutex
	subs   map[string]*redisSub
	closed bool
}

type redisSub struct {
	cancel context.CancelFunc
}

func NewRedis(rdb *redis.Client) *RedisBroker {
	b := &RedisBroker{
		rdb:         rdb,
		subs:        make(map[string]*redisSub),
		baseBackoff: 500 * time.Millisecond,
	}
	b.subscribe = func(ctx context.Context, channel string) pubsubStream {
		return rdb.Subscribe(ctx, channel)
	}
	return b
}

// Publish 发出后即返回，不等待任何订阅端确认。
func (b *RedisBroker) Publish(ctx context.Context, roomID string, env Envelope) error {
	payload, err := env.encode()
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channelKey(roomID), payload).Err(); err != nil {
		return err
	}
	metrics.BrokerPublishedTotal.WithLabelValues(string(env.Op)).Inc()
	return nil
}

func (b *RedisBroker) Subscribe(roomID string, fn DeliverFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker closed")
	}
	if _, ok := b.subs[roomID]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.subs[roomID] = &redisSub{cancel: cancel}
	go b.receive(ctx, roomID, fn)
	return nil
}

// receive 是每个房间一个的接收循环。通道断开后退避重连，
// 重连即重新 SUBSCRIBE，等价于补发当前需要的订阅。
func (b *RedisBroker) receive(ctx context.Context, roomID string, fn DeliverFunc) {
	backoff := b.baseBackoff
	for {
		stream := b.subscribe(ctx, channelKey(roomID))
		if _, err := stream.Receive(ctx); err != nil {
			_ = stream.Close()
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("room_id", roomID).Dur("backoff", backoff).Msg("broker subscribe failed")
			metrics.BrokerReconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = b.baseBackoff

		ch := stream.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = stream.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				env, err := decodeEnvelope([]byte(msg.Payload))
				if err != nil {
					log.Warn().Err(err).Str("room_id", roomID).Msg("drop malformed envelope")
					continue
				}
				metrics.BrokerDeliveredTotal.WithLabelValues(string(env.Op)).Inc()
				fn(env)
			}
		}
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("room_id", roomID).Msg("broker channel lost, reconnecting")
		metrics.BrokerReconnects.Inc()
	}
}

func (b *RedisBroker) Unsubscribe(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[roomID]; ok {
		s.cancel()
		delete(b.subs, roomID)
	}
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		s.cancel()
		delete(b.subs, id)
	}
	return nil
}
