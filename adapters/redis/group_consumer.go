package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message 封裝一筆待處理的訊息與確認所需的資料。
// 處理成功呼叫 Done，失敗呼叫 Fail 將訊息移入 dead-letter stream；
// 兩者都未呼叫的訊息會留在 pending 清單，於下次啟動時被重新認領。
type Message[T any] struct {
	Data T

	client    *redis.Client
	done      bool
	messageID string
	stream    string
	group     string
	raw       map[string]any
}

// Done 確認訊息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack message: %w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將處理失敗的訊息連同錯誤原因移入 dead-letter stream 後確認
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}

	values := make(map[string]any, len(m.raw)+1)
	for k, v := range m.raw {
		values[k] = v
	}
	values["error"] = failErr.Error()
	if err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream + ":dead-letter",
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] failed to move message to dead letter queue: %w", op, err)
	}

	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack failed message: %w", op, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	claimMinIdle time.Duration
}

type GroupConsumerOption func(*groupConsumerOptions)

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger(logger *slog.Logger) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.logger = logger
	}
}

// WithGroupConsumerBufferSize 設置下游channel的緩衝大小
func WithGroupConsumerBufferSize(size int) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取超時時間
func WithGroupConsumerBlockTimeout(d time.Duration) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerClaimMinIdle 設置認領他人 pending 訊息所需的最小閒置時間
func WithGroupConsumerClaimMinIdle(d time.Duration) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.claimMinIdle = d
	}
}

// GroupConsumer 以 consumer group 消費 Redis Stream，
// 與 Relay 不同的是每筆訊息只會被群組中的一個消費者處理恰好一次
// （以 ack 為準），用於將已接受的出價寫回資料庫這類不可重複的工作。
type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    groupConsumerOptions
}

func NewGroupConsumer[T any](client *redis.Client, stream, group, consumer string, opts ...GroupConsumerOption) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := groupConsumerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
		claimMinIdle: time.Minute,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group)),
		options: options,
	}, nil
}

func (g *GroupConsumer[T]) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.downStream = make(chan *Message[T], g.options.bufferSize)
	g.cancelFunc = cancel
	g.closed = false
	g.logger.Info("starting group consumer")

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.logger.Info("group consumer goroutine stopped")
		defer close(g.downStream)

		if err := g.ensureGroup(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			g.logger.Error("fail to create consumer group", slog.Any("error", err))
			return
		}

		// 先認領閒置過久的 pending 訊息（前一個實例沒處理完的）
		g.claimStale(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := g.readBatch(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					if !errors.Is(err, redis.Nil) {
						g.logger.Error("read group error", slog.Any("error", err))
						time.Sleep(100 * time.Millisecond)
					}
				}
			}
		}
	}()
}

// ensureGroup 確保 consumer group 存在，stream 不存在時一併建立
func (g *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := g.client.XGroupCreateMkStream(ctx, g.stream, g.group, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// claimStale 透過 XAUTOCLAIM 接手其他消費者閒置過久的 pending 訊息
func (g *GroupConsumer[T]) claimStale(ctx context.Context) {
	start := "0-0"
	for {
		messages, next, err := g.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   g.stream,
			Group:    g.group,
			Consumer: g.consumer,
			MinIdle:  g.options.claimMinIdle,
			Start:    start,
			Count:    int64(g.options.bufferSize),
		}).Result()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				g.logger.Warn("fail to claim pending messages", slog.Any("error", err))
			}
			return
		}
		for i := range messages {
			if !g.dispatch(ctx, &messages[i]) {
				return
			}
		}
		if next == "0-0" || len(messages) == 0 {
			return
		}
		start = next
	}
}

// readBatch 讀取一批新訊息並送往下游
func (g *GroupConsumer[T]) readBatch(ctx context.Context) error {
	streams, err := g.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: g.consumer,
		Streams:  []string{g.stream, ">"},
		Count:    int64(g.options.bufferSize),
		Block:    g.options.blockTimeout,
	}).Result()
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for i := range stream.Messages {
			if !g.dispatch(ctx, &stream.Messages[i]) {
				return context.Canceled
			}
		}
	}
	return nil
}

// dispatch 解析訊息並送往下游；回傳 false 表示 context 已取消
func (g *GroupConsumer[T]) dispatch(ctx context.Context, message *redis.XMessage) bool {
	data, err := DecodeFromMessage[T](message.Values)
	if err != nil {
		// 解不開的訊息直接送進 dead-letter，避免卡住整個群組
		g.logger.Error("failed to decode message",
			slog.String("messageId", message.ID),
			slog.Any("error", err))
		bad := &Message[T]{
			client:    g.client,
			messageID: message.ID,
			stream:    g.stream,
			group:     g.group,
			raw:       message.Values,
		}
		if failErr := bad.Fail(ctx, err); failErr != nil {
			g.logger.Error("failed to dead-letter undecodable message",
				slog.String("messageId", message.ID),
				slog.Any("error", failErr))
		}
		return true
	}

	msg := &Message[T]{
		Data:      data,
		client:    g.client,
		messageID: message.ID,
		stream:    g.stream,
		group:     g.group,
		raw:       message.Values,
	}
	select {
	case <-ctx.Done():
		return false
	case g.downStream <- msg:
		g.logger.Debug("message dispatched", slog.String("messageId", message.ID))
		return true
	}
}

// Subscribe 訂閱待處理的訊息
func (g *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return g.downStream
}

// Close 關閉消費者
func (g *GroupConsumer[T]) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()
	g.logger.Info("closing group consumer")
	g.cancelFunc()
	g.wg.Wait()
	g.logger.Info("group consumer closed")
}
