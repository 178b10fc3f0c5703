package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

// ErrRelayClosed 表示 relay 已關閉
var ErrRelayClosed = errors.New("relay is closed")

type relayOptions struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
}

type RelayOption func(*relayOptions)

// WithRelayLogger 設置日誌記錄器
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(o *relayOptions) {
		o.logger = logger
	}
}

// WithRelayBufferSize 設置上下游通道的緩衝大小
func WithRelayBufferSize(size int) RelayOption {
	return func(o *relayOptions) {
		o.bufferSize = size
	}
}

// WithRelayBlockTimeout 設置 XREAD 的阻塞超時時間
func WithRelayBlockTimeout(d time.Duration) RelayOption {
	return func(o *relayOptions) {
		o.blockTimeout = d
	}
}

// Relay 透過單一 Redis Stream 轉發事件，讓多個服務實例協同運作：
// Publish 將事件 XADD 到 stream，每個實例的接收迴圈以 XREAD 依序讀回，
// 因此所有實例都以相同的順序看到事件。
//
// 送出端經過 chanx 的無界通道緩衝，Publish 永不阻塞在網路 I/O 上。
type Relay[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	upstream   *chanx.UnboundedChan[map[string]any]
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    relayOptions
}

func NewRelay[T any](client *redis.Client, stream string, opts ...RelayOption) (*Relay[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := relayOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Relay[T]{
		client:  client,
		stream:  stream,
		lastID:  "$", // 只讀取啟動後的新訊息
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Relay"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (r *Relay[T]) Start() {
	if !r.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.upstream = chanx.NewUnboundedChan[map[string]any](ctx, r.options.bufferSize)
	r.downStream = make(chan T, r.options.bufferSize)
	r.cancelFunc = cancel
	r.closed = false
	r.logger.Info("starting stream relay")

	// 送出端 goroutine：將緩衝的事件依序 XADD
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.logger.Info("relay publisher stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message := <-r.upstream.Out:
				id, err := r.client.XAdd(ctx, &redis.XAddArgs{
					Stream: r.stream,
					Values: message,
				}).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					r.logger.Error("publish message error", slog.Any("error", err))
					continue
				}
				r.logger.Debug("message published", slog.String("messageId", id))
			}
		}
	}()

	// 接收端 goroutine：依序讀回 stream 上的事件並送往下游
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.logger.Info("relay consumer stopped")
		defer close(r.downStream)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				message, err := r.fetchNextMessage(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					if errors.Is(err, redis.Nil) {
						continue
					}
					r.logger.Error("fetch message error", slog.Any("error", err))
					time.Sleep(100 * time.Millisecond)
					continue
				}

				data, err := DecodeFromMessage[T](message.Values)
				if err != nil {
					r.logger.Error("failed to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}

				select {
				case <-ctx.Done():
					return
				case r.downStream <- data:
				}
			}
		}
	}()
}

func (r *Relay[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, r.lastID},
		Count:   1,
		Block:   r.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}

	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		message := streams[0].Messages[0]
		r.lastID = message.ID
		return message, nil
	}
	return redis.XMessage{}, redis.Nil
}

// Publish 發布事件到 stream，只做序列化與緩衝，不等待寫入完成
func (r *Relay[T]) Publish(data T) error {
	if r.closed {
		return ErrRelayClosed
	}

	message, err := EncodeToMessage(data)
	if err != nil {
		return err
	}
	r.upstream.In <- message
	return nil
}

// Subscribe 訂閱從 stream 讀回的事件
func (r *Relay[T]) Subscribe() <-chan T {
	return r.downStream
}

// Close 關閉 relay
func (r *Relay[T]) Close() {
	if r.closed {
		return
	}
	r.logger.Info("closing stream relay")
	r.closed = true
	r.cancelFunc()
	r.wg.Wait()
	r.logger.Info("stream relay closed")
}
