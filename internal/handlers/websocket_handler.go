package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The listener is loopback by default and /ws sits behind the API key
		return true
	},
}

// WebSocketHandler serves the live feed
type WebSocketHandler struct {
	hub     *services.FeedHub
	session *services.ScanSession
	logger  *observability.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.FeedHub, session *services.ScanSession) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		session: session,
		logger:  observability.GetLogger().With("component", "ws"),
	}
}

// HandleConnection upgrades to WebSocket. Topics named in the topics query
// parameter (comma separated) are subscribed straight away; clients can
// subscribe to more with {"type":"subscribe","payload":{"topic":"..."}}.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)
	h.hub.Register(client)

	go client.WritePump()

	for _, topic := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			h.subscribe(client, topic)
		}
	}

	client.ReadPump(h.handleMessage)
}

func (h *WebSocketHandler) handleMessage(client *services.FeedClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		client.SendDirect(services.WSMessage{Type: services.WSTypeError, Payload: "invalid message"})
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if topic := topicOf(msg.Payload); topic != "" {
			h.subscribe(client, topic)
		}

	case services.WSTypeUnsubscribe:
		if topic, err := h.resolveTopic(topicOf(msg.Payload)); err == nil {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		client.SendDirect(services.WSMessage{Type: services.WSTypePong})

	default:
		h.logger.Debug("unknown websocket message", "type", msg.Type)
	}
}

// subscribe joins topic and primes the client with the topic's current
// value. The topic is joined before the value is read so no later commit
// can slip past the client.
func (h *WebSocketHandler) subscribe(client *services.FeedClient, raw string) {
	topic, err := h.resolveTopic(raw)
	if err != nil {
		client.SendDirect(services.WSMessage{Type: services.WSTypeError, Payload: err.Error()})
		return
	}

	h.hub.Subscribe(client, topic)
	if h.hub.Prime(client, topic) {
		return
	}

	msg, err := h.current(topic)
	if err != nil {
		h.hub.Unsubscribe(client, topic)
		client.SendDirect(services.WSMessage{Type: services.WSTypeError, Payload: "topic unavailable"})
		return
	}
	client.SendDirect(msg)
}

// resolveTopic checks topic and turns day:today into the current day key
func (h *WebSocketHandler) resolveTopic(topic string) (string, error) {
	switch {
	case topic == services.TopicRecent, topic == services.TopicSettings:
		return topic, nil
	case strings.HasPrefix(topic, services.TopicDayPrefix):
		day := strings.TrimPrefix(topic, services.TopicDayPrefix)
		if day == "today" {
			day = h.session.Store().TodayKey()
		}
		if err := models.ValidateDayKey(day); err != nil {
			return "", err
		}
		return services.DayTopic(day), nil
	default:
		return "", fmt.Errorf("unknown topic %q", topic)
	}
}

// current reads topic's value straight from the store, for hubs that are
// not following it
func (h *WebSocketHandler) current(topic string) (services.WSMessage, error) {
	ctx := context.Background()

	switch topic {
	case services.TopicRecent:
		return services.WSMessage{Type: services.WSTypeRecentScans, Payload: h.session.Recent()}, nil

	case services.TopicSettings:
		guard, err := h.session.Store().DuplicateGuard(ctx)
		if err != nil {
			return services.WSMessage{}, err
		}
		return services.WSMessage{
			Type:    services.WSTypeSettings,
			Payload: services.SettingsPayload{DuplicateGuard: guard, ScanEnabled: h.session.ScanEnabled()},
		}, nil

	default:
		root, err := h.session.Store().Root(ctx)
		if err != nil {
			return services.WSMessage{}, err
		}
		day := strings.TrimPrefix(topic, services.TopicDayPrefix)
		return services.WSMessage{Type: services.WSTypeDayCounts, Payload: services.DayPayload(root, day)}, nil
	}
}

func topicOf(payload interface{}) string {
	switch p := payload.(type) {
	case string:
		return p
	case map[string]interface{}:
		if topic, ok := p["topic"].(string); ok {
			return topic
		}
	}
	return ""
}
