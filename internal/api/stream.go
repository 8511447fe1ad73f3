package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"skytour/pkg/core"
	"skytour/pkg/model"
	"skytour/pkg/narrator"
	"skytour/pkg/voice"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// Outbound stream message types.
const (
	MsgTelemetry = "telemetry"
	MsgNarration = "narration"
	MsgSpeak     = "speak"
	MsgSilence   = "silence"
	MsgVoice     = "voice"
	MsgCapture   = "capture"
)

// Inbound stream message types.
const (
	InHello          = "hello"
	InKey            = "key"
	InSpeechFinished = "speechFinished"
	InSpeechError    = "speechError"
	InTranscript     = "transcript"
	InCaptureEnded   = "captureEnded"
	InCaptureError   = "captureError"
)

// Capture actions sent to the recognizing client.
const (
	CaptureStart = "start"
	CaptureStop  = "stop"
	CaptureAbort = "abort"
)

var errCaptureLagging = errors.New("capture client not reading")

// Envelope is one outbound stream message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is one message from the presentation layer. Only the fields of
// its type are set.
type Inbound struct {
	Type              string           `json:"type"`
	Key               string           `json:"key,omitempty"`
	Down              bool             `json:"down,omitempty"`
	ID                string           `json:"id,omitempty"`
	Text              string           `json:"text,omitempty"`
	Final             bool             `json:"final,omitempty"`
	Code              string           `json:"code,omitempty"`
	TTS               bool             `json:"tts,omitempty"`
	SpeechRecognition bool             `json:"speechRecognition,omitempty"`
	MicPermission     voice.Permission `json:"micPermission,omitempty"`
}

// SpeakCommand asks clients to synthesize a narration.
type SpeakCommand struct {
	ID   string         `json:"id"`
	Text string         `json:"text"`
	Lang model.Language `json:"language"`
}

// CaptureCommand drives the client's speech recognizer.
type CaptureCommand struct {
	Action string         `json:"action"`
	Lang   model.Language `json:"language,omitempty"`
}

type client struct {
	conn        *websocket.Conn
	send        chan Envelope
	tts         bool
	recognition bool
}

// Hub is the WebSocket side of the tour: it fans state out to every
// connected client and feeds their input, speech and recognition events
// back in. It is the narrator's speaker, the voice loop's capture and status
// sink, and the telemetry sink.
type Hub struct {
	tour     *core.Tour
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	capture *client
}

// NewHub creates the hub and installs it on tour.
func NewHub(tour *core.Tour, origins []string) *Hub {
	h := &Hub{
		tour:    tour,
		logger:  slog.With("component", "stream"),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	tour.SetSink(h)
	tour.Narrator().SetSpeaker(h)
	tour.Voice().SetPublisher(h)
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(origins, origin) || slices.Contains(origins, "*") {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// ServeHTTP upgrades GET /api/stream and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Stream upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan Envelope, sendBuffer)}
	c.send <- Envelope{Type: MsgTelemetry, Data: h.tour.Telemetry()}
	c.send <- Envelope{Type: MsgNarration, Data: h.tour.Narrator().Snapshot()}
	c.send <- Envelope{Type: MsgVoice, Data: h.tour.Voice().Status()}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Stream client connected", "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	lostCapture := h.capture == c
	if lostCapture {
		h.capture = nil
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Stream client disconnected", "clients", n)
	if lostCapture {
		h.tour.Voice().Reset()
		h.tour.Voice().Attach(nil, false, "")
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Stream read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Ignoring malformed stream message", "error", err)
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(c *client, msg Inbound) {
	switch msg.Type {
	case InHello:
		h.hello(c, msg)
	case InKey:
		if msg.Down {
			h.tour.KeyDown(msg.Key)
		} else {
			h.tour.KeyUp(msg.Key)
		}
	case InSpeechFinished:
		h.tour.SpeechFinished(msg.ID)
	case InSpeechError:
		h.tour.SpeechFailed(msg.ID)
	case InTranscript:
		h.tour.Voice().Transcript(msg.Text, msg.Final)
	case InCaptureEnded:
		h.tour.Voice().CaptureEnded()
	case InCaptureError:
		h.tour.Voice().CaptureError(msg.Code)
	default:
		h.logger.Debug("Unknown stream message", "type", msg.Type)
	}
}

// hello records what the client can do. The latest client with a
// recognizer becomes the capture device.
func (h *Hub) hello(c *client, msg Inbound) {
	h.mu.Lock()
	c.tts = msg.TTS
	c.recognition = msg.SpeechRecognition
	switch {
	case c.recognition:
		h.capture = c
	case h.capture == c:
		h.capture = nil
	}
	hasCapture := h.capture != nil
	h.mu.Unlock()

	h.logger.Info("Stream client capabilities", "tts", msg.TTS, "recognition", msg.SpeechRecognition, "mic", msg.MicPermission)
	if hasCapture {
		h.tour.Voice().Attach(h, true, msg.MicPermission)
	} else {
		h.tour.Voice().Attach(nil, false, msg.MicPermission)
	}
}

// trySend queues env for c without blocking. Callers hold h.mu and must not
// call into other services while holding it.
func (h *Hub) trySend(c *client, env Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		h.logger.Debug("Stream client lagging, message dropped", "type", env.Type)
		return false
	}
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.trySend(c, env)
	}
}

// PublishTelemetry implements core.TelemetrySink.
func (h *Hub) PublishTelemetry(t core.Telemetry) {
	h.broadcast(Envelope{Type: MsgTelemetry, Data: t})
}

// Publish implements narrator.Speaker.
func (h *Hub) Publish(s narrator.Snapshot) {
	h.broadcast(Envelope{Type: MsgNarration, Data: s})
}

// Speak implements narrator.Speaker. It reports true when at least one
// client will synthesize the text and answer with speechFinished.
func (h *Hub) Speak(s narrator.Snapshot) bool {
	env := Envelope{Type: MsgSpeak, Data: SpeakCommand{ID: s.ID, Text: s.Text, Lang: s.Lang}}
	h.mu.RLock()
	defer h.mu.RUnlock()
	speaking := false
	for c := range h.clients {
		if c.tts && h.trySend(c, env) {
			speaking = true
		}
	}
	return speaking
}

// Silence implements narrator.Speaker.
func (h *Hub) Silence() {
	h.broadcast(Envelope{Type: MsgSilence})
}

// PublishVoice implements voice.Publisher.
func (h *Hub) PublishVoice(st voice.Status) {
	h.broadcast(Envelope{Type: MsgVoice, Data: st})
}

// Start implements voice.Capture.
func (h *Hub) Start(lang model.Language) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.capture == nil {
		return voice.ErrUnsupported
	}
	if !h.trySend(h.capture, Envelope{Type: MsgCapture, Data: CaptureCommand{Action: CaptureStart, Lang: lang}}) {
		return errCaptureLagging
	}
	return nil
}

// Stop implements voice.Capture.
func (h *Hub) Stop() { h.captureCommand(CaptureStop) }

// Abort implements voice.Capture.
func (h *Hub) Abort() { h.captureCommand(CaptureAbort) }

func (h *Hub) captureCommand(action string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.capture != nil {
		h.trySend(h.capture, Envelope{Type: MsgCapture, Data: CaptureCommand{Action: action}})
	}
}
