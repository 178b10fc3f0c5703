package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bidstream/adapters/room"
	"bidstream/auction"
)

const (
	// 單次寫入的期限
	wsWriteWait = 10 * time.Second
	// 收到 pong 後等待下一個 pong 的期限
	wsPongWait = 60 * time.Second
	// ping 的間隔，必須小於 wsPongWait
	wsPingPeriod = (wsPongWait * 9) / 10
	// 入站訊息的大小上限
	wsMaxMessageSize = 4 << 10
	// 出站佇列的緩衝大小，塞滿代表消費太慢，直接斷線
	wsOutboundBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsRequest 是客戶端送進來的訊息，依 Type 決定哪些欄位有意義
type wsRequest struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	RoomID string `json:"roomId,omitempty"`
	Text   string `json:"text,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

// wsReply 是不進房間廣播、只回給單一連線的訊息
type wsReply struct {
	Kind    string `json:"kind"`
	RoomID  string `json:"roomId,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	User     *auction.Identity `json:"user,omitempty"`
	Members  []room.Member     `json:"members,omitempty"`
	Snapshot gin.H             `json:"snapshot,omitempty"`
	Sequence uint64            `json:"sequenceNumber,omitempty"`
}

// wsClient 持有單一 WebSocket 連線的狀態。
// rooms 記錄已加入房間的轉發goroutine，斷線時全部回收。
type wsClient struct {
	connID   string
	conn     *websocket.Conn
	who      *auction.Identity
	outbound chan any

	mu    sync.Mutex
	rooms map[string]context.CancelFunc
}

// Realtime channel
// (GET /ws)
func (impl *ServerImpl) GetWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("fail to upgrade websocket", slog.Any("error", err))
		return
	}

	client := &wsClient{
		connID:   uuid.NewString(),
		conn:     conn,
		outbound: make(chan any, wsOutboundBuffer),
		rooms:    map[string]context.CancelFunc{},
	}
	logger := slog.Default().With(slog.String("caller", "GetWebSocket"), slog.String("connId", client.connID))

	ctx, cancel := context.WithCancel(context.Background())
	go impl.writePump(ctx, cancel, client, logger)
	impl.readPump(ctx, cancel, client, logger)
}

// readPump 依序處理入站訊息。一條連線只有這個goroutine在讀，
// 所以同一連線上的指令天然有序。
func (impl *ServerImpl) readPump(ctx context.Context, cancel context.CancelFunc, client *wsClient, logger *slog.Logger) {
	defer func() {
		cancel()
		impl.teardown(client)
	}()

	client.conn.SetReadLimit(wsMaxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var req wsRequest
		if err := client.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed unexpectedly", slog.Any("error", err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		impl.dispatch(ctx, client, req, logger)
	}
}

// writePump 是連線上唯一的寫入者，合併房間事件與連線私有回覆
func (impl *ServerImpl) writePump(ctx context.Context, cancel context.CancelFunc, client *wsClient, logger *slog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = client.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-client.outbound:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				logger.Debug("fail to write websocket message", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (impl *ServerImpl) dispatch(ctx context.Context, client *wsClient, req wsRequest, logger *slog.Logger) {
	switch req.Type {
	case "authenticate":
		impl.handleAuthenticate(ctx, client, req)
		return
	case "ping":
		client.send(ctx, wsReply{Kind: "pong"})
		return
	}

	// 其餘指令都要先通過身份驗證
	if client.who == nil {
		client.send(ctx, wsReply{Kind: "error", Reason: auction.Reason(auction.ErrUnauthenticated), Message: "authenticate first"})
		return
	}

	switch req.Type {
	case "joinRoom":
		impl.handleJoin(ctx, client, req)
	case "leaveRoom":
		impl.handleLeave(ctx, client, req)
	case "sendChat":
		impl.handleChat(ctx, client, req)
	case "placeBid":
		impl.handleBid(ctx, client, req)
	default:
		logger.Debug("unknown websocket request type", slog.String("type", req.Type))
		client.send(ctx, wsReply{Kind: "error", Message: "unknown request type"})
	}
}

func (impl *ServerImpl) handleAuthenticate(ctx context.Context, client *wsClient, req wsRequest) {
	who, err := impl.identity.Verify(req.Token)
	if err != nil {
		client.send(ctx, wsReply{Kind: "error", Reason: auction.Reason(auction.ErrUnauthenticated), Message: "invalid access token"})
		return
	}
	client.who = &who
	client.send(ctx, wsReply{Kind: "authenticated", User: &who})
}

func (impl *ServerImpl) handleJoin(ctx context.Context, client *wsClient, req wsRequest) {
	if req.RoomID == "" {
		client.send(ctx, wsReply{Kind: "error", Message: "roomId is required"})
		return
	}

	client.mu.Lock()
	if _, ok := client.rooms[req.RoomID]; ok {
		client.mu.Unlock()
		client.send(ctx, wsReply{Kind: "joined", RoomID: req.RoomID, Members: impl.broadcaster.Members(req.RoomID)})
		return
	}

	member := room.Member{ID: client.who.ID.String(), Name: client.who.DisplayName}
	ch, members := impl.broadcaster.Join(req.RoomID, member, client.connID)

	forwardCtx, cancelForward := context.WithCancel(ctx)
	client.rooms[req.RoomID] = cancelForward
	client.mu.Unlock()

	// 把房間事件轉送進這條連線的出站佇列
	go func() {
		defer impl.broadcaster.Leave(req.RoomID, client.connID)
		for {
			select {
			case <-forwardCtx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				client.send(forwardCtx, ev)
			}
		}
	}()

	reply := wsReply{Kind: "joined", RoomID: req.RoomID, Members: members}
	// 加入時附上進行中場次的快照，讓晚進場的人立即同步到目前價格
	if sessionID, open := impl.registry.OpenSession(req.RoomID); open {
		if session, found := impl.engine.Session(sessionID); found {
			reply.Snapshot = sessionSnapshotView(session.Snapshot())
		}
	}
	client.send(ctx, reply)

	if err := impl.broadcaster.Publish(auction.Event{
		Kind:        auction.EventParticipantJoined,
		RoomID:      req.RoomID,
		At:          time.Now(),
		Participant: client.who,
	}); err != nil {
		slog.Warn("fail to publish participant joined", slog.Any("error", err))
	}
}

func (impl *ServerImpl) handleLeave(ctx context.Context, client *wsClient, req wsRequest) {
	client.mu.Lock()
	cancelForward, ok := client.rooms[req.RoomID]
	if ok {
		delete(client.rooms, req.RoomID)
	}
	client.mu.Unlock()
	if !ok {
		return
	}
	cancelForward()

	client.send(ctx, wsReply{Kind: "left", RoomID: req.RoomID})
	if err := impl.broadcaster.Publish(auction.Event{
		Kind:        auction.EventParticipantLeft,
		RoomID:      req.RoomID,
		At:          time.Now(),
		Participant: client.who,
	}); err != nil {
		slog.Warn("fail to publish participant left", slog.Any("error", err))
	}
}

func (impl *ServerImpl) handleChat(ctx context.Context, client *wsClient, req wsRequest) {
	if req.RoomID == "" {
		client.send(ctx, wsReply{Kind: "error", Message: "roomId is required"})
		return
	}
	// 聊天訊息僅轉發不落地，但仍先消毒
	text := strings.TrimSpace(impl.chatPolicy.Sanitize(req.Text))
	if text == "" {
		client.send(ctx, wsReply{Kind: "error", RoomID: req.RoomID, Message: "message is empty"})
		return
	}

	if err := impl.broadcaster.Publish(auction.Event{
		Kind:   auction.EventChatMessage,
		RoomID: req.RoomID,
		At:     time.Now(),
		Chat: &auction.ChatPayload{
			SenderID:   client.who.ID,
			SenderName: client.who.DisplayName,
			Text:       text,
			SentAt:     time.Now(),
		},
	}); err != nil {
		client.send(ctx, wsReply{Kind: "error", RoomID: req.RoomID, Reason: auction.Reason(err), Message: "fail to send message"})
	}
}

func (impl *ServerImpl) handleBid(ctx context.Context, client *wsClient, req wsRequest) {
	sessionID, open := impl.registry.OpenSession(req.RoomID)
	if !open {
		client.send(ctx, wsReply{Kind: "bidRejected", RoomID: req.RoomID, Reason: auction.Reason(auction.ErrSessionNotOpen)})
		return
	}

	entry, err := impl.engine.Submit(auction.BidAttempt{
		SessionID:   sessionID,
		Bidder:      *client.who,
		Amount:      req.Amount,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		// 被拒絕的出價只回給出價者本人，不進房間廣播
		client.send(ctx, wsReply{Kind: "bidRejected", RoomID: req.RoomID, Reason: auction.Reason(err)})
		return
	}
	// 接受的出價由引擎的 sink 負責廣播，這裡只私下回個序號
	client.send(ctx, wsReply{Kind: "bidAccepted", RoomID: req.RoomID, Sequence: entry.SequenceNumber})
}

// teardown 回收連線佔用的所有房間訂閱並通知其他人離開
func (impl *ServerImpl) teardown(client *wsClient) {
	client.mu.Lock()
	rooms := client.rooms
	client.rooms = map[string]context.CancelFunc{}
	client.mu.Unlock()

	for roomID, cancelForward := range rooms {
		cancelForward()
		impl.broadcaster.Leave(roomID, client.connID)
		if client.who == nil {
			continue
		}
		if err := impl.broadcaster.Publish(auction.Event{
			Kind:        auction.EventParticipantLeft,
			RoomID:      roomID,
			At:          time.Now(),
			Participant: client.who,
		}); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("fail to publish participant left", slog.Any("error", err))
		}
	}
	_ = client.conn.Close()
}

// send 把訊息排進出站佇列，連線已關閉時直接丟棄
func (c *wsClient) send(ctx context.Context, msg any) {
	select {
	case <-ctx.Done():
	case c.outbound <- msg:
	}
}
