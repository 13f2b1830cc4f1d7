package services

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
)

// WSMessage is the envelope for every feed message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Message types
const (
	WSTypeRecentScans = "recent_scans"
	WSTypeDayCounts   = "day_counts"
	WSTypeSettings    = "settings"
	WSTypeError       = "error"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
)

// Topics. Day topics are TopicDayPrefix followed by a day key.
const (
	TopicRecent    = "recent"
	TopicSettings  = "settings"
	TopicDayPrefix = "day:"
)

// DayTopic returns the topic carrying counts for day
func DayTopic(day string) string {
	return TopicDayPrefix + day
}

// DayCountsPayload is sent on day topics
type DayCountsPayload struct {
	Day     string              `json:"day"`
	Entries []models.CountEntry `json:"entries"`
	Total   int                 `json:"total"`
}

// SettingsPayload is sent on the settings topic
type SettingsPayload struct {
	DuplicateGuard models.DuplicateGuardSettings `json:"duplicateGuard"`
	ScanEnabled    bool                          `json:"scanEnabled"`
}

// FeedClient is one connected WebSocket viewer
type FeedClient struct {
	ID         string
	Topics     map[string]bool
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *FeedHub
	removed    bool // guarded by hub.mu
	mu         sync.Mutex
	closedOnce sync.Once
}

// FeedHub fans tally changes out to WebSocket viewers by topic
type FeedHub struct {
	clients    map[*FeedClient]bool
	topics     map[string]map[*FeedClient]bool
	register   chan *FeedClient
	unregister chan *FeedClient
	broadcast  chan *broadcastMsg
	done       chan struct{}
	mu         sync.RWMutex
	logger     *observability.Logger

	// requests carries prime and refresh asks to the Follow loop
	requests  chan feedRequest
	following atomic.Bool
}

// broadcastMsg goes to client when set, otherwise to topic ("" is everyone)
type broadcastMsg struct {
	topic   string
	client  *FeedClient
	message []byte
}

type feedRequest struct {
	topic  string
	client *FeedClient // nil rebroadcasts to the whole topic
}

// NewFeedHub creates a hub; call Run to start it
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:    make(map[*FeedClient]bool),
		topics:     make(map[string]map[*FeedClient]bool),
		register:   make(chan *FeedClient),
		unregister: make(chan *FeedClient),
		broadcast:  make(chan *broadcastMsg, 256),
		done:       make(chan struct{}),
		logger:     observability.GetLogger().With("component", "feed_hub"),
		requests:   make(chan feedRequest, 64),
	}
}

// Run processes registrations and broadcasts until ctx ends
func (h *FeedHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("feed client connected", "client", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.logger.Debug("feed client disconnected", "client", client.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if msg.client != nil {
				if !msg.client.removed {
					h.deliverLocked(msg.client, msg.message)
				}
			} else {
				targets := h.clients
				if msg.topic != "" {
					targets = h.topics[msg.topic]
				}
				for client := range targets {
					h.deliverLocked(client, msg.message)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *FeedHub) deliverLocked(client *FeedClient, message []byte) {
	select {
	case client.Send <- message:
	default:
		// Slow viewer; drop it rather than stall everyone
		go h.Unregister(client)
	}
}

func (h *FeedHub) removeLocked(client *FeedClient) {
	if client.removed {
		return
	}
	client.removed = true
	delete(h.clients, client)
	for topic := range client.Topics {
		if topicClients, ok := h.topics[topic]; ok {
			delete(topicClients, client)
			if len(topicClients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(client.Send)
}

// Register adds a client to the hub
func (h *FeedHub) Register(client *FeedClient) {
	select {
	case h.register <- client:
	case <-h.done:
		h.mu.Lock()
		h.removeLocked(client)
		h.mu.Unlock()
	}
}

// Unregister removes a client from the hub
func (h *FeedHub) Unregister(client *FeedClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a topic
func (h *FeedHub) Subscribe(client *FeedClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.removed {
		return
	}
	client.Topics[topic] = true
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*FeedClient]bool)
	}
	h.topics[topic][client] = true
}

// Unsubscribe removes a client from a topic
func (h *FeedHub) Unsubscribe(client *FeedClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Topics, topic)
	if topicClients, ok := h.topics[topic]; ok {
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// BroadcastToTopic sends msg to every client subscribed to topic
func (h *FeedHub) BroadcastToTopic(topic string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal feed message", "type", msg.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- &broadcastMsg{topic: topic, message: data}:
	case <-h.done:
	}
}

// sendTo queues msg for one client behind every broadcast already queued
func (h *FeedHub) sendTo(client *FeedClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal feed message", "type", msg.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- &broadcastMsg{client: client, message: data}:
	case <-h.done:
	}
}

// BroadcastAll sends msg to every connected client
func (h *FeedHub) BroadcastAll(msg WSMessage) {
	h.BroadcastToTopic("", msg)
}

// ClientCount returns the number of connected clients
func (h *FeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicSubscriberCount returns the number of subscribers for topic
func (h *FeedHub) TopicSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// DayTopics returns the days that currently have subscribers
func (h *FeedHub) DayTopics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var days []string
	for topic := range h.topics {
		if day, ok := strings.CutPrefix(topic, TopicDayPrefix); ok {
			days = append(days, day)
		}
	}
	return days
}

// NewClient creates a client bound to this hub
func (h *FeedHub) NewClient(id string, conn *websocket.Conn) *FeedClient {
	return &FeedClient{
		ID:     id,
		Topics: make(map[string]bool),
		Conn:   conn,
		Send:   make(chan []byte, 64),
		hub:    h,
	}
}

// ErrAlreadyFollowing is returned when Follow is called twice on one hub
var ErrAlreadyFollowing = errors.New("services: feed hub is already following")

// Follow pushes recent-scan, day and settings changes to subscribers until
// ctx ends. Day payloads are only sent when the day's entries change.
//
// While Follow runs it is the only source of feed values: Prime and Refresh
// are answered from the same loop, so a viewer sees values in commit order.
func (h *FeedHub) Follow(ctx context.Context, session *ScanSession, projector *Projector) error {
	if !h.following.CompareAndSwap(false, true) {
		return ErrAlreadyFollowing
	}

	recent, err := session.RecentEvents().Subscribe(ctx)
	if err != nil {
		h.following.Store(false)
		return err
	}
	prefs, err := projector.prefs.Subscribe(ctx)
	if err != nil {
		h.following.Store(false)
		return err
	}

	f := &feedFollower{
		hub:     h,
		session: session,
		logger:  projector.logger,
		sent:    make(map[string]DayCountsPayload),
		events:  <-recent,
	}
	f.apply(<-prefs)

	go func() {
		defer h.following.Store(false)
		for recent != nil || prefs != nil {
			select {
			case <-ctx.Done():
				return

			case events, ok := <-recent:
				if !ok {
					recent = nil
					continue
				}
				f.events = events
				h.BroadcastToTopic(TopicRecent, f.recentMessage())

			case snapshot, ok := <-prefs:
				if !ok {
					prefs = nil
					continue
				}
				f.apply(snapshot)

			case req := <-h.requests:
				f.answer(req)
			}
		}
	}()

	return nil
}

// Prime asks the Follow loop to send topic's current value to client. It
// reports false when nothing is following the store; the caller then primes
// the client itself.
func (h *FeedHub) Prime(client *FeedClient, topic string) bool {
	return h.request(feedRequest{topic: topic, client: client})
}

// Refresh asks the Follow loop to resend topic's current value to every
// subscriber. It reports false when nothing is following the store.
func (h *FeedHub) Refresh(topic string) bool {
	return h.request(feedRequest{topic: topic})
}

func (h *FeedHub) request(req feedRequest) bool {
	if !h.following.Load() {
		return false
	}
	select {
	case h.requests <- req:
		return true
	case <-h.done:
		return false
	default:
		return false
	}
}

// feedFollower is the state owned by the Follow loop
type feedFollower struct {
	hub     *FeedHub
	session *ScanSession
	logger  *observability.Logger

	root     models.Root
	events   []models.ScanEvent
	guard    models.DuplicateGuardSettings
	guardSet bool

	// sent holds the payload every current subscriber of a day last got.
	// Days nobody watches are dropped so a later viewer is never compared
	// against a value it did not see.
	sent map[string]DayCountsPayload
}

func (f *feedFollower) apply(snapshot models.Preferences) {
	h := f.hub
	f.root = RootFromPreferences(snapshot, f.logger)

	watched := make(map[string]bool)
	for _, day := range h.DayTopics() {
		watched[day] = true
		payload := DayPayload(f.root, day)
		if prev, ok := f.sent[day]; ok && reflect.DeepEqual(prev, payload) {
			continue
		}
		f.sent[day] = payload
		h.BroadcastToTopic(DayTopic(day), dayMessage(payload))
	}
	for day := range f.sent {
		if !watched[day] {
			delete(f.sent, day)
		}
	}

	guard := GuardFromPreferences(snapshot)
	if !f.guardSet || f.guard != guard {
		f.guard, f.guardSet = guard, true
		h.BroadcastToTopic(TopicSettings, f.settingsMessage())
	}
}

func (f *feedFollower) answer(req feedRequest) {
	var msg WSMessage
	switch {
	case req.topic == TopicRecent:
		msg = f.recentMessage()
	case req.topic == TopicSettings:
		msg = f.settingsMessage()
	case strings.HasPrefix(req.topic, TopicDayPrefix):
		day := strings.TrimPrefix(req.topic, TopicDayPrefix)
		payload := DayPayload(f.root, day)
		f.sent[day] = payload
		msg = dayMessage(payload)
	default:
		return
	}

	if req.client != nil {
		f.hub.sendTo(req.client, msg)
		return
	}
	f.hub.BroadcastToTopic(req.topic, msg)
}

func (f *feedFollower) recentMessage() WSMessage {
	return WSMessage{Type: WSTypeRecentScans, Payload: f.events}
}

func (f *feedFollower) settingsMessage() WSMessage {
	return WSMessage{
		Type:    WSTypeSettings,
		Payload: SettingsPayload{DuplicateGuard: f.guard, ScanEnabled: f.session.ScanEnabled()},
	}
}

func dayMessage(payload DayCountsPayload) WSMessage {
	return WSMessage{Type: WSTypeDayCounts, Payload: payload}
}

// DayPayload builds the day topic payload from root
func DayPayload(root models.Root, day string) DayCountsPayload {
	counts := DayCounts(root, day)
	return DayCountsPayload{
		Day:     day,
		Entries: SortedCounts(counts, models.SortByCount),
		Total:   Total(counts),
	}
}

// SendDirect queues msg for this client only. Messages to a client that
// has already left, or whose queue is full, are dropped.
func (c *FeedClient) SendDirect(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h := c.hub
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.removed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// Close closes the client connection
func (c *FeedClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump copies queued messages to the connection and keeps it alive with pings
func (c *FeedClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()
			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads client messages until the connection closes
func (c *FeedClient) ReadPump(onMessage func(client *FeedClient, messageType int, data []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(4 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("feed connection error", "client", c.ID, "error", err)
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}
