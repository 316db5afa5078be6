package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrMessageNotFound 表示目标消息不存在，对该次调用是终态错误。
	ErrMessageNotFound = errors.New("message not found")
	// ErrStoreUnavailable 表示持久层暂时不可达，由调用方决定重试或降级。
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store 是消息的持久化入口。
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

// Append 落盘一条已经构造好的消息。ID 与时间戳由 models.NewMessage 分配，
// 所以这里失败不影响已经走出去的实时广播。
func (s *Store) Append(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// History 按创建时间游标分页读取房间消息。before 非零时只返回严格早于它的记录，
// 避免 offset 分页在并发写入下漂移。时间相同的记录按 id 升序排出，保证分页确定性。
func (s *Store) History(ctx context.Context, roomID string, before time.Time, limit int, asc bool) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	order := "created_at DESC, id ASC"
	if asc {
		order = "created_at ASC, id ASC"
	}
	var msgs []models.Message
	if err := q.Order(order).Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// ToggleLike 原子地翻转 userID 对 messageID 的点赞状态。
// 删除/插入点赞行与计数调整放在同一事务里，计数用 SQL 表达式自增自减，
// 不同用户并发点赞同一条消息也不会丢更新。
// 同一用户并发翻转会在 message_likes 主键上相撞，撞上说明对方那次已生效，
// 本次按排在后面的一次翻转整体重做，而不是当成存储故障报出去。
func (s *Store) ToggleLike(ctx context.Context, messageID, userID string) (bool, int, error) {
	liked, count, err := s.toggleLike(ctx, messageID, userID)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		liked, count, err = s.toggleLike(ctx, messageID, userID)
	}
	return liked, count, err
}

func (s *Store) toggleLike(ctx context.Context, messageID, userID string) (liked bool, count int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Message{}).Where("id = ?", messageID).Count(&exists).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if exists == 0 {
			return ErrMessageNotFound
		}

		res := tx.Where("message_id = ? AND user_id = ?", messageID, userID).Delete(&models.MessageLike{})
		if res.Error != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
		}
		delta := "like_count + 1"
		if res.RowsAffected > 0 {
			liked = false
			delta = "like_count - 1"
		} else {
			liked = true
			like := models.MessageLike{MessageID: messageID, UserID: userID, CreatedAt: time.Now().UTC()}
			if err := tx.Create(&like).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return err
				}
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
		if err := tx.Model(&models.Message{}).Where("id = ?", messageID).
			UpdateColumn("like_count", gorm.Expr(delta)).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return tx.Model(&models.Message{}).Select("like_count").Where("id = ?", messageID).Scan(&count).Error
	})
	if err != nil {
		return false, 0, err
	}
	return liked, count, nil
}

// LikedBy 返回某条消息的点赞用户 id 列表，按点赞时间升序。
func (s *Store) LikedBy(ctx context.Context, messageID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.MessageLike{}).
		Where("message_id = ?", messageID).Order("created_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}
