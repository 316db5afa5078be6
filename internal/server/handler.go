package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/models"
	"github.com/GRM3355/3355-backend-sub001/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合只读 API 的 handler，依赖注入查询门面。
type Handler struct {
	facade      *query.Facade
	historyPage int
}

func NewHandler(facade *query.Facade, historyPage int) *Handler {
	return &Handler{facade: facade, historyPage: historyPage}
}

// ListRooms 返回按 sort 参数排序的房间列表。
func (h *Handler) ListRooms(c *gin.Context) {
	order, err := query.ParseRoomOrder(c.Query("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sort"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": h.facade.Rooms(order)})
}

type msgDTO struct {
	ID        string             `json:"id"`
	RoomID    string             `json:"room_id"`
	UserID    string             `json:"user_id"`
	Username  string             `json:"username"`
	Content   string             `json:"content"`
	Kind      models.MessageKind `json:"kind"`
	LikeCount int                `json:"like_count"`
	CreatedAt time.Time          `json:"created_at"`
}

// ListMessages 按时间游标分页返回房间历史。
// before 取 RFC3339 时间戳，只返回严格早于它的消息。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID := c.Param("id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	order, err := query.ParseMessageOrder(c.Query("order"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order"})
		return
	}
	limit := h.historyPage
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	var before time.Time
	if v := c.Query("before"); v != "" {
		before, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
	}

	msgs, err := h.facade.Messages(c.Request.Context(), roomID, before, limit, order)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	out := make([]msgDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, msgDTO{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  m.Username,
			Content:   m.Content,
			Kind:      m.Kind,
			LikeCount: m.LikeCount,
			CreatedAt: m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
