// Package broker 把本地消息接到一条跨实例共享的发布/订阅通道上，
// 让任何一台实例收到的消息都能到达其他实例上的订阅者。
package broker

import "context"

// DeliverFunc 在收到某房间的信封时被调用。
// 同一房间内的调用是串行的，顺序即通道送达顺序。
type DeliverFunc func(env Envelope)

// Broker 是实时扇出通道的抽象。发布是 at-most-once 的：
// 不等确认就返回，可靠性由消息存储那条路径兜底。
type Broker interface {
	// Publish 向房间对应的通道发送信封。
	Publish(ctx context.Context, roomID string, env Envelope) error
	// Subscribe 对同一房间是幂等的，重复订阅不会导致重复投递。
	Subscribe(roomID string, fn DeliverFunc) error
	// Unsubscribe 尽力而为地释放房间通道。
	Unsubscribe(roomID string)
	// Close 释放所有订阅。
	Close() error
}
