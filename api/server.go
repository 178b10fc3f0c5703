package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"bidstream/adapters/catalog"
	"bidstream/adapters/identity"
	redisAdapter "bidstream/adapters/redis"
	"bidstream/adapters/room"
	"bidstream/auction"
	"bidstream/models"
)

// contextKeyIdentity 是 gin context 中已驗證身份的鍵
const contextKeyIdentity = "identity"

type ServerImpl struct {
	db            *gorm.DB
	redisClient   *redis.Client
	identity      *identity.Provider
	catalog       *catalog.Store
	engine        *auction.Engine
	registry      *auction.Registry
	broadcaster   *room.Broadcaster[auction.Event]
	ledgerWriter  redisAdapter.IProducer[auction.LedgerEntry]
	groupConsumer redisAdapter.IGroupConsumer[auction.LedgerEntry]
	chatPolicy    *bluemonday.Policy
	htmlPolicy    *bluemonday.Policy
	wg            sync.WaitGroup
	cancelFunc    context.CancelFunc

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s",
		config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化身份提供者
	identityProvider, err := identity.NewProvider(
		db,
		[]byte(config.Auth.Secret),
		identity.WithProviderIssuer(config.Auth.Issuer),
		identity.WithProviderTokenTTL(config.Auth.TokenTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create identity provider, err=%w", op, err)
	}

	// 初始化房間事件的跨節點轉發與廣播層
	relay, err := redisAdapter.NewRelay[auction.Event](
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithRelayLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create event relay, err=%w", op, err)
	}
	broadcaster := room.NewBroadcaster(
		func(ev auction.Event) string { return ev.RoomID },
		room.WithBroadcasterLogger[auction.Event](slog.Default()),
		room.WithBroadcasterRelay[auction.Event](relay),
	)

	// 初始化帳本 stream 的寫入端與歸檔消費者
	ledgerWriter, err := redisAdapter.NewProducer[auction.LedgerEntry](
		redisClient,
		config.Redis.StreamKeys.Ledger,
		redisAdapter.WithProducerLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create ledger producer, err=%w", op, err)
	}
	groupConsumer, err := redisAdapter.NewGroupConsumer[auction.LedgerEntry](
		redisClient,
		config.Redis.StreamKeys.Ledger,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
	}

	// 初始化競價引擎：每接受一筆出價就送進帳本 stream 並廣播到房間。
	// 兩者都只做緩衝不等待 I/O，可以在場次鎖之下安全執行。
	engine := auction.NewEngine(
		auction.WithEngineLogger(slog.Default()),
		auction.WithEngineSink(func(entry auction.LedgerEntry) {
			if err := ledgerWriter.Publish(entry); err != nil {
				slog.Error("fail to enqueue ledger entry", slog.Uint64("seq", entry.SequenceNumber), slog.Any("error", err))
			}
			if err := broadcaster.Publish(auction.Event{
				Kind:   auction.EventBidAccepted,
				RoomID: entry.RoomID,
				At:     entry.AcceptedAt,
				Bid:    &entry,
			}); err != nil {
				slog.Error("fail to broadcast accepted bid", slog.Uint64("seq", entry.SequenceNumber), slog.Any("error", err))
			}
		}),
	)

	// 初始化場次註冊表，開場/收場以 Redis 分散式鎖跨節點互斥
	registry := auction.NewRegistry(
		engine,
		broadcaster,
		auction.WithRegistryLogger(slog.Default()),
		auction.WithRegistryMinIncrement(config.Auction.MinIncrement),
		auction.WithRegistryIdleTimeout(config.Auction.IdleTimeout),
		auction.WithRegistrySweepInterval(config.Auction.SweepInterval),
		auction.WithRegistryLockFactory(func(key string) auction.Locker {
			lockKey := fmt.Sprintf("%sroom:%s:session-lock", config.Redis.KeyPrefix, key)
			return redisAdapter.NewAutoRenewMutex(redisClient, lockKey)
		}),
	)

	return &ServerImpl{
		db:            db,
		redisClient:   redisClient,
		identity:      identityProvider,
		catalog:       catalog.NewStore(db),
		engine:        engine,
		registry:      registry,
		broadcaster:   broadcaster,
		ledgerWriter:  ledgerWriter,
		groupConsumer: groupConsumer,
		chatPolicy:    bluemonday.StrictPolicy(),
		htmlPolicy:    bluemonday.UGCPolicy(),
		config:        config,
	}, nil
}

func (impl *ServerImpl) Start() {
	// 啟動廣播層（連帶啟動事件轉發）
	impl.broadcaster.Start()
	// 啟動帳本寫入端
	impl.ledgerWriter.Start()
	// 啟動歸檔消費者
	impl.groupConsumer.Start()
	// 啟動場次註冊表的閒置清掃
	impl.registry.Start()
	// 啟動一個worker把帳本 stream 上的出價紀錄歸檔進資料庫
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	slog.Info("Start ledger archive worker")
	impl.wg.Add(1)
	go func() {
		logger := slog.Default().With(slog.String("caller", "LedgerArchive"))
		defer impl.wg.Done()
		defer slog.Info("Ledger archive worker stopped")
		ch := impl.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive ledger entry", slog.Uint64("seq", msg.Data.SequenceNumber))
				record := models.BidRecord{
					SessionID:      msg.Data.SessionID,
					CardID:         msg.Data.ListingID,
					BidderID:       msg.Data.BidderID,
					Amount:         msg.Data.Amount,
					SequenceNumber: msg.Data.SequenceNumber,
					AcceptedAt:     msg.Data.AcceptedAt,
				}
				if err := impl.catalog.AppendBidRecord(ctx, &record); err != nil {
					logger.Error("Fail to archive ledger entry", slog.Any("error", err))
					if failErr := msg.Fail(ctx, err); failErr != nil {
						logger.Error("Fail to fail message", slog.Any("error", failErr))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Archived but fail to ack message", slog.Any("error", err))
					continue
				}
				logger.Debug("Ledger entry archived",
					slog.String("sessionId", msg.Data.SessionID.String()),
					slog.Uint64("seq", msg.Data.SequenceNumber))
			}
		}
	}()
}

func (impl *ServerImpl) Close() {
	// 關閉場次註冊表
	impl.registry.Close()
	// 關閉歸檔worker
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	// 關閉歸檔消費者與帳本寫入端
	impl.groupConsumer.Close()
	impl.ledgerWriter.Close()
	// 關閉廣播層
	impl.broadcaster.Done()
}

// RegisterRoutes 註冊所有路由
func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", impl.GetHealth)

	api := router.Group("/api")
	{
		api.POST("/auth/signup", impl.PostAuthSignup)
		api.POST("/auth/login", impl.PostAuthLogin)
		api.GET("/auth/me", impl.RequireAuth(), impl.GetAuthMe)

		api.POST("/cards", impl.RequireAuth(), impl.PostCards)
		api.GET("/cards", impl.GetCards)
		api.GET("/cards/:cardID", impl.GetCard)
		api.GET("/cards/:cardID/bids", impl.GetCardBids)
		api.GET("/bids/user", impl.RequireAuth(), impl.GetUserBids)

		api.POST("/streams", impl.RequireAuth(), impl.PostStreams)
		api.GET("/streams/active", impl.GetActiveStreams)
		api.GET("/streams/:streamID", impl.GetStream)
		api.DELETE("/streams/:streamID", impl.RequireAuth(), impl.DeleteStream)
		api.POST("/streams/:streamID/session", impl.RequireAuth(), impl.PostStreamSession)
		api.DELETE("/streams/:streamID/session", impl.RequireAuth(), impl.DeleteStreamSession)
		api.GET("/streams/:streamID/session", impl.GetStreamSession)
	}

	router.GET("/ws", impl.GetWebSocket)
}

// RequireAuth 驗證 Authorization header 中的 Bearer token，
// 並把還原的身份放進 context
func (impl *ServerImpl) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing access token"})
			return
		}
		who, err := impl.identity.Verify(token)
		if err != nil {
			slog.Debug("reject invalid access token", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid access token"})
			return
		}
		c.Set(contextKeyIdentity, who)
		c.Next()
	}
}

// identityFrom 取出 RequireAuth 放進 context 的身份
func identityFrom(c *gin.Context) auction.Identity {
	return c.MustGet(contextKeyIdentity).(auction.Identity)
}

// Health check
// (GET /health)
func (impl *ServerImpl) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// Register new user
// (POST /api/auth/signup)
func (impl *ServerImpl) PostAuthSignup(c *gin.Context) {
	var body struct {
		Email    string `json:"email" binding:"required"`
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email, username and password are required"})
		return
	}

	user, token, err := impl.identity.Signup(c.Request.Context(), body.Email, body.Username, body.Password)
	if errors.Is(err, identity.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"message": "user already exists"})
		return
	}
	if errors.Is(err, identity.ErrInvalidCredentials) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid signup fields"})
		return
	}
	if err != nil {
		impl.abortInternal(c, "PostAuthSignup", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":  userView(user),
		"token": token,
	})
}

// Login user
// (POST /api/auth/login)
func (impl *ServerImpl) PostAuthLogin(c *gin.Context) {
	var body struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
		return
	}

	user, token, err := impl.identity.Login(c.Request.Context(), body.Email, body.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}
	if err != nil {
		impl.abortInternal(c, "PostAuthLogin", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":  userView(user),
		"token": token,
	})
}

// Get current user
// (GET /api/auth/me)
func (impl *ServerImpl) GetAuthMe(c *gin.Context) {
	who := identityFrom(c)
	user, err := impl.identity.UserByID(c.Request.Context(), who.ID)
	if errors.Is(err, auction.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
		return
	}
	if err != nil {
		impl.abortInternal(c, "GetAuthMe", err)
		return
	}
	c.JSON(http.StatusOK, userView(user))
}

// List a new card for auction
// (POST /api/cards)
func (impl *ServerImpl) PostCards(c *gin.Context) {
	who := identityFrom(c)
	var body struct {
		Title         string `json:"title" binding:"required"`
		Description   string `json:"description"`
		StartingPrice int64  `json:"startingPrice"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "title is required"})
		return
	}
	if body.StartingPrice < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "starting price cannot be negative"})
		return
	}

	card := models.Card{
		SellerID:      who.ID,
		Title:         body.Title,
		Description:   impl.htmlPolicy.Sanitize(body.Description),
		StartingPrice: uint32(body.StartingPrice),
		Status:        models.CardStatusListed,
	}
	if err := impl.catalog.CreateCard(c.Request.Context(), &card); err != nil {
		impl.abortInternal(c, "PostCards", err)
		return
	}
	c.Header("Location", card.ID.String())
	c.JSON(http.StatusCreated, cardView(card))
}

// List cards
// (GET /api/cards)
func (impl *ServerImpl) GetCards(c *gin.Context) {
	var sellerID *uuid.UUID
	if raw := c.Query("sellerId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid seller id"})
			return
		}
		sellerID = &id
	}
	cards, err := impl.catalog.Cards(c.Request.Context(), sellerID, c.Query("status"))
	if err != nil {
		impl.abortInternal(c, "GetCards", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(cards),
		"items": lo.Map(cards, func(card models.Card, _ int) gin.H { return cardView(card) }),
	})
}

// Get card details
// (GET /api/cards/:cardID)
func (impl *ServerImpl) GetCard(c *gin.Context) {
	cardID, err := uuid.Parse(c.Param("cardID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid card id"})
		return
	}
	card, err := impl.catalog.Card(c.Request.Context(), cardID)
	if errors.Is(err, auction.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "card not found"})
		return
	}
	if err != nil {
		impl.abortInternal(c, "GetCard", err)
		return
	}

	view := cardView(card)
	view["bidRecords"] = lo.Map(card.BidRecords, func(record models.BidRecord, _ int) gin.H {
		return bidRecordView(record)
	})
	c.JSON(http.StatusOK, view)
}

// Get archived bids for a card
// (GET /api/cards/:cardID/bids)
func (impl *ServerImpl) GetCardBids(c *gin.Context) {
	cardID, err := uuid.Parse(c.Param("cardID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid card id"})
		return
	}
	records, err := impl.catalog.CardBids(c.Request.Context(), cardID)
	if err != nil {
		impl.abortInternal(c, "GetCardBids", err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(records, func(record models.BidRecord, _ int) gin.H {
		return bidRecordView(record)
	}))
}

// Get current user's archived bids
// (GET /api/bids/user)
func (impl *ServerImpl) GetUserBids(c *gin.Context) {
	who := identityFrom(c)
	records, err := impl.catalog.UserBids(c.Request.Context(), who.ID)
	if err != nil {
		impl.abortInternal(c, "GetUserBids", err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(records, func(record models.BidRecord, _ int) gin.H {
		view := bidRecordView(record)
		view["cardTitle"] = record.Card.Title
		return view
	}))
}

// Create a new livestream
// (POST /api/streams)
func (impl *ServerImpl) PostStreams(c *gin.Context) {
	who := identityFrom(c)
	var body struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "title is required"})
		return
	}

	stream := models.Stream{
		HostID:    who.ID,
		Title:     body.Title,
		Status:    models.StreamStatusActive,
		StartedAt: time.Now(),
	}
	if result := impl.db.WithContext(c.Request.Context()).Create(&stream); result.Error != nil {
		impl.abortInternal(c, "PostStreams", result.Error)
		return
	}
	c.Header("Location", stream.ID.String())
	c.JSON(http.StatusCreated, streamView(stream))
}

// List active livestreams
// (GET /api/streams/active)
func (impl *ServerImpl) GetActiveStreams(c *gin.Context) {
	var streams []models.Stream
	if result := impl.db.WithContext(c.Request.Context()).
		Preload("Host").
		Where("status = ?", models.StreamStatusActive).
		Order("started_at DESC").
		Find(&streams); result.Error != nil {
		impl.abortInternal(c, "GetActiveStreams", result.Error)
		return
	}
	c.JSON(http.StatusOK, lo.Map(streams, func(stream models.Stream, _ int) gin.H {
		view := streamView(stream)
		view["host"] = stream.Host.Username
		view["participants"] = len(impl.broadcaster.Members(stream.ID.String()))
		return view
	}))
}

// Get livestream details
// (GET /api/streams/:streamID)
func (impl *ServerImpl) GetStream(c *gin.Context) {
	stream, ok := impl.findStream(c)
	if !ok {
		return
	}
	view := streamView(stream)
	view["participants"] = len(impl.broadcaster.Members(stream.ID.String()))
	if sessionID, open := impl.registry.OpenSession(stream.ID.String()); open {
		view["openSessionId"] = sessionID.String()
	}
	c.JSON(http.StatusOK, view)
}

// End a livestream
// (DELETE /api/streams/:streamID)
func (impl *ServerImpl) DeleteStream(c *gin.Context) {
	who := identityFrom(c)
	stream, ok := impl.findStream(c)
	if !ok {
		return
	}
	if stream.HostID != who.ID {
		c.JSON(http.StatusForbidden, gin.H{"message": "only the host can end a stream"})
		return
	}
	if stream.Status == models.StreamStatusEnded {
		c.JSON(http.StatusConflict, gin.H{"message": "stream already ended"})
		return
	}
	if _, open := impl.registry.OpenSession(stream.ID.String()); open {
		c.JSON(http.StatusConflict, gin.H{"message": "end the open auction session before ending the stream"})
		return
	}

	now := time.Now()
	stream.Status = models.StreamStatusEnded
	stream.EndedAt = &now
	if result := impl.db.WithContext(c.Request.Context()).Model(&stream).
		Updates(map[string]any{"status": stream.Status, "ended_at": stream.EndedAt}); result.Error != nil {
		impl.abortInternal(c, "DeleteStream", result.Error)
		return
	}
	c.JSON(http.StatusOK, streamView(stream))
}

// Start an auction session in a livestream
// (POST /api/streams/:streamID/session)
func (impl *ServerImpl) PostStreamSession(c *gin.Context) {
	who := identityFrom(c)
	stream, ok := impl.findStream(c)
	if !ok {
		return
	}
	// 只有直播主可以開場
	if stream.HostID != who.ID {
		c.JSON(http.StatusForbidden, gin.H{"message": "only the host can start a session"})
		return
	}
	if stream.Status == models.StreamStatusEnded {
		c.JSON(http.StatusConflict, gin.H{"message": "stream has ended"})
		return
	}

	var body struct {
		CardID uuid.UUID `json:"cardId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "cardId is required"})
		return
	}

	listing, err := impl.catalog.GetListing(c.Request.Context(), body.CardID)
	if errors.Is(err, auction.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "card not found"})
		return
	}
	if err != nil {
		impl.abortInternal(c, "PostStreamSession", err)
		return
	}
	if listing.Status != models.CardStatusListed {
		c.JSON(http.StatusConflict, gin.H{"message": "card is not available for auction"})
		return
	}

	session, err := impl.registry.StartSession(c.Request.Context(), stream.ID.String(), listing)
	if errors.Is(err, auction.ErrRoomBusy) {
		c.JSON(http.StatusConflict, gin.H{"message": "stream already has an open session"})
		return
	}
	if err != nil {
		impl.abortInternal(c, "PostStreamSession", err)
		return
	}

	if err := impl.catalog.SetCardStatus(c.Request.Context(), listing.ID, models.CardStatusLive); err != nil {
		slog.Warn("fail to mark card live", slog.String("cardId", listing.ID.String()), slog.Any("error", err))
	}
	c.JSON(http.StatusCreated, sessionSnapshotView(session.Snapshot()))
}

// End the open auction session in a livestream
// (DELETE /api/streams/:streamID/session)
func (impl *ServerImpl) DeleteStreamSession(c *gin.Context) {
	who := identityFrom(c)
	stream, ok := impl.findStream(c)
	if !ok {
		return
	}
	if stream.HostID != who.ID {
		c.JSON(http.StatusForbidden, gin.H{"message": "only the host can end a session"})
		return
	}

	result, err := impl.registry.EndSession(c.Request.Context(), stream.ID.String())
	if errors.Is(err, auction.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "no open session in this stream"})
		return
	}
	if err != nil {
		impl.abortInternal(c, "DeleteStreamSession", err)
		return
	}

	// 有人得標轉 sold，流標回到 listed
	status := models.CardStatusListed
	if result.WinnerID != nil {
		status = models.CardStatusSold
	}
	if err := impl.catalog.SetCardStatus(c.Request.Context(), result.ListingID, status); err != nil {
		slog.Warn("fail to update card status", slog.String("cardId", result.ListingID.String()), slog.Any("error", err))
	}

	view := gin.H{
		"sessionId":  result.SessionID.String(),
		"finalPrice": result.FinalPrice,
		"closedAt":   result.ClosedAt,
	}
	if result.WinnerID != nil {
		view["winnerId"] = result.WinnerID.String()
		view["winnerName"] = result.WinnerName
	}
	c.JSON(http.StatusOK, view)
}

// Get the open auction session of a livestream
// (GET /api/streams/:streamID/session)
func (impl *ServerImpl) GetStreamSession(c *gin.Context) {
	stream, ok := impl.findStream(c)
	if !ok {
		return
	}
	sessionID, open := impl.registry.OpenSession(stream.ID.String())
	if !open {
		c.JSON(http.StatusNotFound, gin.H{"message": "no open session in this stream"})
		return
	}
	session, found := impl.engine.Session(sessionID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": "no open session in this stream"})
		return
	}

	view := sessionSnapshotView(session.Snapshot())
	view["ledger"] = lo.Map(session.Ledger(), func(entry auction.LedgerEntry, _ int) gin.H {
		return gin.H{
			"sequenceNumber": entry.SequenceNumber,
			"bidderId":       entry.BidderID.String(),
			"bidderName":     entry.BidderName,
			"amount":         entry.Amount,
			"acceptedAt":     entry.AcceptedAt,
		}
	})
	c.JSON(http.StatusOK, view)
}

// findStream 解析路徑中的 streamID 並載入直播，失敗時已寫入回應
func (impl *ServerImpl) findStream(c *gin.Context) (models.Stream, bool) {
	streamID, err := uuid.Parse(c.Param("streamID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid stream id"})
		return models.Stream{}, false
	}
	stream := models.Stream{ID: streamID}
	if result := impl.db.WithContext(c.Request.Context()).First(&stream); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "stream not found"})
			return models.Stream{}, false
		}
		impl.abortInternal(c, "findStream", result.Error)
		return models.Stream{}, false
	}
	return stream, true
}

func (impl *ServerImpl) abortInternal(c *gin.Context, op string, err error) {
	slog.Error("internal error", slog.String("op", op), slog.Any("error", err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}

func userView(user models.User) gin.H {
	return gin.H{
		"id":       user.ID.String(),
		"username": user.Username,
		"email":    user.Email,
	}
}

func cardView(card models.Card) gin.H {
	return gin.H{
		"id":            card.ID.String(),
		"sellerId":      card.SellerID.String(),
		"title":         card.Title,
		"description":   card.Description,
		"startingPrice": card.StartingPrice,
		"status":        card.Status,
	}
}

func streamView(stream models.Stream) gin.H {
	view := gin.H{
		"id":        stream.ID.String(),
		"hostId":    stream.HostID.String(),
		"title":     stream.Title,
		"status":    stream.Status,
		"startedAt": stream.StartedAt,
	}
	if stream.EndedAt != nil {
		view["endedAt"] = *stream.EndedAt
	}
	return view
}

func bidRecordView(record models.BidRecord) gin.H {
	view := gin.H{
		"sequenceNumber": record.SequenceNumber,
		"sessionId":      record.SessionID.String(),
		"bidderId":       record.BidderID.String(),
		"amount":         record.Amount,
		"acceptedAt":     record.AcceptedAt,
	}
	if record.Bidder.Username != "" {
		view["bidderName"] = record.Bidder.Username
	}
	return view
}

func sessionSnapshotView(snap auction.Snapshot) gin.H {
	view := gin.H{
		"sessionId":     snap.ID.String(),
		"listingId":     snap.ListingID.String(),
		"roomId":        snap.RoomID,
		"status":        snap.Status.String(),
		"startingPrice": snap.StartingPrice,
		"minIncrement":  snap.MinIncrement,
		"currentPrice":  snap.CurrentPrice,
		"bidCount":      snap.BidCount,
	}
	if snap.LeaderID != nil {
		view["leaderId"] = snap.LeaderID.String()
		view["leaderName"] = snap.LeaderName
	}
	return view
}
