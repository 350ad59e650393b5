// Package server exposes the synchronization engine over HTTP for a local UI
// process.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/remote"
	synccoord "github.com/quillchat/chatsync/internal/sync"
)

var errMissingCoordinator = errors.New("sync coordinator dependency required")

// Dependencies carries the router's collaborators.
type Dependencies struct {
	Coordinator *synccoord.Coordinator
	Logger      *zap.Logger
}

// NewHTTPHandler builds the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		coordinator: deps.Coordinator,
		logger:      logger,
	}

	contexts := router.Group("/contexts/:key")
	contexts.POST("/summary", handler.handleSummary)
	contexts.POST("/window", handler.handleWindow)
	contexts.POST("/older", handler.handleOlder)
	contexts.POST("/newer", handler.handleNewer)
	contexts.POST("/events", handler.handleEvents)
	contexts.POST("/messages", handler.handleSendMessage)
	contexts.POST("/read", handler.handleMarkRead)
	contexts.GET("/unread", handler.handleUnread)

	return router, nil
}

type httpHandler struct {
	coordinator *synccoord.Coordinator
	logger      *zap.Logger
}

func (h *httpHandler) target(c *gin.Context) (chat.Context, bool) {
	target, err := chat.ParseContextKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_context"})
		return chat.Context{}, false
	}
	return target, true
}

type summaryPayload struct {
	LatestEventIndex     int64 `json:"latest_event_index"`
	LatestMessageIndex   int64 `json:"latest_message_index"`
	MinVisibleEventIndex int64 `json:"min_visible_event_index"`
	LastUpdatedMs        int64 `json:"last_updated_ms"`
}

func (h *httpHandler) handleSummary(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	var request summaryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.coordinator.UpdateSummary(target, synccoord.Summary{
		LatestEventIndex:     chat.EventIndex(request.LatestEventIndex),
		LatestMessageIndex:   chat.MessageIndex(request.LatestMessageIndex),
		MinVisibleEventIndex: chat.EventIndex(request.MinVisibleEventIndex),
		LastUpdatedMs:        request.LastUpdatedMs,
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type windowPayload struct {
	MessageIndex int64 `json:"message_index"`
}

func (h *httpHandler) handleWindow(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	var request windowPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.MessageIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	response := h.coordinator.LoadEventWindow(c.Request.Context(), target, chat.MessageIndex(request.MessageIndex))
	h.respondEvents(c, target, response)
}

func (h *httpHandler) handleOlder(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	response, more := h.coordinator.LoadPreviousEvents(c.Request.Context(), target)
	if !more {
		c.JSON(http.StatusOK, gin.H{"events": []any{}, "no_more": true})
		return
	}
	h.respondEvents(c, target, response)
}

func (h *httpHandler) handleNewer(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	response, more := h.coordinator.LoadNewEvents(c.Request.Context(), target)
	if !more {
		c.JSON(http.StatusOK, gin.H{"events": []any{}, "no_more": true})
		return
	}
	h.respondEvents(c, target, response)
}

type refreshPayload struct {
	Indices []int64 `json:"indices"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	var request refreshPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Indices) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	indices := make([]chat.EventIndex, 0, len(request.Indices))
	for _, index := range request.Indices {
		if index < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		indices = append(indices, chat.EventIndex(index))
	}
	response := h.coordinator.RefreshIndices(c.Request.Context(), target, indices)
	h.respondEvents(c, target, response)
}

type sendPayload struct {
	Content   string `json:"content"`
	RepliesTo string `json:"replies_to"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	var request sendPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := h.coordinator.SendMessage(target, request.Content, request.RepliesTo)
	if err != nil {
		h.logger.Error("failed to stage outgoing message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": toWireEvent(event)})
}

type markReadPayload struct {
	MessageIndex int64  `json:"message_index"`
	MessageID    string `json:"message_id"`
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	var request markReadPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.MessageIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.MessageID != "" {
		h.coordinator.Tracker().MarkMessageRead(target, chat.MessageIndex(request.MessageIndex), request.MessageID)
	} else {
		h.coordinator.Tracker().MarkReadUpTo(target, chat.MessageIndex(request.MessageIndex))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleUnread(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	latest, hasLatest := h.coordinator.LatestMessageIndex(target)
	if raw := c.Query("latest"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		latest = chat.MessageIndex(parsed)
		hasLatest = true
	}
	if !hasLatest {
		c.JSON(http.StatusOK, gin.H{"count": 0})
		return
	}

	body := gin.H{"count": h.coordinator.Tracker().UnreadCount(target, latest)}
	if firstUnread, ok := h.coordinator.Tracker().FirstUnread(target, latest); ok {
		body["first_unread"] = int64(firstUnread)
	}
	c.JSON(http.StatusOK, body)
}

// respondEvents maps the closed response set onto HTTP statuses.
func (h *httpHandler) respondEvents(c *gin.Context, target chat.Context, response remote.EventsResponse) {
	switch concrete := response.(type) {
	case remote.EventsSuccess:
		events := make([]wireEvent, 0, len(concrete.Events))
		for _, event := range concrete.Events {
			events = append(events, toWireEvent(event))
		}
		c.JSON(http.StatusOK, gin.H{
			"events":             events,
			"latest_event_index": int64(concrete.LatestEventIndex),
			"timestamp_ms":       concrete.TimestampMs,
		})
	case remote.NotAMember:
		c.JSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
	case remote.ReplicaNotUpToDate:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":               "replica_not_up_to_date",
			"server_timestamp_ms": concrete.ServerTimestampMs,
		})
	case remote.EventsFailed:
		h.logger.Warn("event load failed",
			zap.String("context", target.Key()),
			zap.Error(concrete.Err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "events_failed"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "events_failed"})
	}
}
