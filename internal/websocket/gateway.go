package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/events"
	"netyora-chat/internal/presence"
	"netyora-chat/internal/services"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	commandTimeout = 10 * time.Second

	// closeAuthFailed is sent when the handshake credential is rejected.
	closeAuthFailed = 4001
)

// ChatStore is the part of the chat store the gateway drives.
type ChatStore interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	AppendMessage(ctx context.Context, chatID, sender string, p chat.MessagePayload) (chat.Message, error)
}

type PresenceTracker interface {
	Attach(userID, connID string, status presence.Status) presence.State
	SetStatus(userID string, status presence.Status) (presence.State, error)
	Detach(userID, connID string) presence.State
}

// ConnectGate may refuse a new connection, e.g. when the user exceeds a quota.
type ConnectGate func(ctx context.Context, userID string) error

type Gateway struct {
	hub      *Hub
	identity services.Identity
	chats    ChatStore
	rooms    *RoomAuthorizer
	presence PresenceTracker
	bus      events.Bus
	gate     ConnectGate
	upgrader websocket.Upgrader
	logger   *Logger
}

func NewGateway(hub *Hub, identity services.Identity, chats ChatStore, tracker PresenceTracker, bus events.Bus, allowedOrigin string, logger *Logger) *Gateway {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Gateway{
		hub:      hub,
		identity: identity,
		chats:    chats,
		rooms:    NewRoomAuthorizer(chats),
		presence: tracker,
		bus:      bus,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "" || origin == allowedOrigin
			},
		},
	}
}

func (g *Gateway) SetConnectGate(gate ConnectGate) { g.gate = gate }

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// ServeWS upgrades the request and runs the connection until it ends. A
// rejected credential closes the connection with code 4001.
func (g *Gateway) ServeWS(c *gin.Context) {
	userID, authErr := g.identity.Verify(bearerToken(c.Request))
	if authErr == nil && g.gate != nil {
		authErr = g.gate(c.Request.Context(), userID)
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("upgrade_failed", userID, "", zap.Error(err))
		return
	}
	if authErr != nil {
		reason := "authentication failed"
		code := closeAuthFailed
		if errors.Is(authErr, netyora_errors.ErrRateLimited) {
			reason, code = "too many connections", websocket.ClosePolicyViolation
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	client := newClient(g, conn, userID)
	g.hub.Register(client)
	g.logger.Info("connected", userID, client.ID)

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	go client.writePump()
	client.readPump(ctx)

	g.disconnect(client)
}

func (g *Gateway) disconnect(c *Client) {
	if g.hub.Unregister(c) {
		g.presence.Detach(c.UserID, c.ID)
		g.logger.Info("disconnected", c.UserID, c.ID)
	}
}

func (g *Gateway) handle(ctx context.Context, c *Client, raw []byte) {
	var in events.Frame
	if err := json.Unmarshal(raw, &in); err != nil {
		g.reply(c, "", fmt.Errorf("%w: malformed frame", netyora_errors.ErrInvalidArgument))
		return
	}
	if !c.limiter.Allow(in.Event) {
		if isAdvisory(in.Event) {
			return
		}
		g.reply(c, in.Event, netyora_errors.ErrRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch in.Event {
	case eventAuthenticate:
		err = g.authenticate(c, in.Data)
	case eventUpdateStatus:
		err = g.updateStatus(c, in.Data)
	case eventJoinChat:
		err = g.joinChat(ctx, c, in.Data)
	case eventLeaveChat:
		err = g.leaveChat(c, in.Data)
	case eventSendMessage:
		err = g.sendMessage(ctx, c, in.Data)
	case eventTyping:
		err = g.typing(ctx, c, in.Data)
	case eventStartVoiceRecording:
		err = g.recording(ctx, c, in.Data, events.TypeVoiceRecordingStarted)
	case eventStopVoiceRecording:
		err = g.recording(ctx, c, in.Data, events.TypeVoiceRecordingStopped)
	case eventSendVoiceMessage:
		err = g.sendVoiceMessage(ctx, c, in.Data)
	case eventVoiceMessagePlayed:
		err = g.voiceMessagePlayed(ctx, c, in.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", netyora_errors.ErrInvalidArgument, in.Event)
	}
	if err != nil {
		g.reply(c, in.Event, err)
	}
}

func isAdvisory(event string) bool {
	switch event {
	case eventTyping, eventStartVoiceRecording, eventStopVoiceRecording, eventVoiceMessagePlayed:
		return true
	}
	return false
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed data", netyora_errors.ErrInvalidArgument)
	}
	return nil
}

// reply sends an error event to c alone.
func (g *Gateway) reply(c *Client, event string, err error) {
	if !errors.Is(err, netyora_errors.ErrInvalidArgument) && !errors.Is(err, netyora_errors.ErrForbidden) &&
		!errors.Is(err, netyora_errors.ErrRateLimited) && !errors.Is(err, netyora_errors.ErrStructural) {
		g.logger.Error(event, c.UserID, c.ID, err)
	}
	g.sendTo(c, events.TypeError, events.ErrorPayload{Event: event, Code: netyora_errors.Code(err), Message: err.Error()})
}

func (g *Gateway) sendTo(c *Client, eventType string, payload any) {
	env, err := events.ToUser(c.UserID, eventType, payload)
	if err != nil {
		return
	}
	frame, err := env.Frame()
	if err != nil {
		return
	}
	if !c.enqueue(frame) {
		c.Kick()
	}
}

func (g *Gateway) authenticate(c *Client, data json.RawMessage) error {
	var in authenticateData
	if err := decode(data, &in); err != nil {
		return err
	}
	status := presence.StatusOnline
	if in.Status != "" {
		parsed, err := presence.ParseStatus(in.Status)
		if err != nil {
			return err
		}
		status = parsed
	}
	state := g.presence.Attach(c.UserID, c.ID, status)
	g.sendTo(c, events.TypeUserOnlineStatus, presencePayload(state))
	return nil
}

func (g *Gateway) updateStatus(c *Client, data json.RawMessage) error {
	var in updateStatusData
	if err := decode(data, &in); err != nil {
		return err
	}
	status, err := presence.ParseStatus(in.Status)
	if err != nil {
		return err
	}
	_, err = g.presence.SetStatus(c.UserID, status)
	return err
}

func (g *Gateway) joinChat(ctx context.Context, c *Client, data json.RawMessage) error {
	var in chatData
	if err := decode(data, &in); err != nil {
		return err
	}
	ok, err := g.rooms.CanJoin(ctx, c.UserID, in.ChatID)
	if err != nil {
		return err
	}
	if !ok {
		return netyora_errors.ErrNotParticipant
	}
	g.hub.Join(c, in.ChatID)
	g.sendTo(c, events.TypeJoinedChat, events.MembershipPayload{ChatID: in.ChatID, UserID: c.UserID})
	return nil
}

func (g *Gateway) leaveChat(c *Client, data json.RawMessage) error {
	var in chatData
	if err := decode(data, &in); err != nil {
		return err
	}
	g.hub.Leave(c, in.ChatID)
	g.sendTo(c, events.TypeLeftChat, events.MembershipPayload{ChatID: in.ChatID, UserID: c.UserID})
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var in sendMessageData
	if err := decode(data, &in); err != nil {
		return err
	}
	if in.Kind != "" && chat.MessageKind(in.Kind) != chat.MessageText {
		return fmt.Errorf("%w: only text messages can be sent here", netyora_errors.ErrInvalidArgument)
	}
	_, err := g.chats.AppendMessage(ctx, in.ChatID, c.UserID, chat.TextPayload(in.Content))
	return err
}

func (g *Gateway) sendVoiceMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var in sendVoiceData
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := g.chats.AppendMessage(ctx, in.ChatID, c.UserID, chat.MessagePayload{
		Kind: chat.MessageVoice,
		Voice: &chat.VoiceInput{
			URL:        strings.TrimSpace(in.Msg),
			DurationMs: int64(in.Duration * 1000),
			FileSize:   in.FileSize,
		},
	})
	return err
}

// roomEvent publishes an advisory event to a room the client has joined and
// still belongs to.
func (g *Gateway) roomEvent(ctx context.Context, c *Client, chatID, eventType string, payload any, exceptSender bool) error {
	if !g.hub.InRoom(c, chatID) {
		return netyora_errors.ErrNotParticipant
	}
	ok, err := g.rooms.CanJoin(ctx, c.UserID, chatID)
	if err != nil {
		return err
	}
	if !ok {
		g.hub.Leave(c, chatID)
		return netyora_errors.ErrNotParticipant
	}
	env, err := events.ToRoom(chatID, eventType, payload)
	if err != nil {
		return err
	}
	env.Advisory = true
	if exceptSender {
		env.ExceptUser = c.UserID
	}
	return g.bus.Publish(ctx, env)
}

func (g *Gateway) typing(ctx context.Context, c *Client, data json.RawMessage) error {
	var in typingData
	if err := decode(data, &in); err != nil {
		return err
	}
	return g.roomEvent(ctx, c, in.ChatID, events.TypeTyping,
		events.TypingPayload{ChatID: in.ChatID, UserID: c.UserID, IsTyping: in.IsTyping}, true)
}

func (g *Gateway) recording(ctx context.Context, c *Client, data json.RawMessage, eventType string) error {
	var in chatData
	if err := decode(data, &in); err != nil {
		return err
	}
	return g.roomEvent(ctx, c, in.ChatID, eventType,
		events.RecordingPayload{ChatID: in.ChatID, UserID: c.UserID}, false)
}

func (g *Gateway) voiceMessagePlayed(ctx context.Context, c *Client, data json.RawMessage) error {
	var in voicePlayedData
	if err := decode(data, &in); err != nil {
		return err
	}
	return g.roomEvent(ctx, c, in.ChatID, events.TypeVoiceMessagePlayed,
		events.VoicePlayedPayload{ChatID: in.ChatID, MessageID: in.MessageID, UserID: c.UserID}, false)
}
