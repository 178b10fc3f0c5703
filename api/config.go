package api

import "time"

type ServerConfig struct {
	// ID 是服務實例的識別，作為 consumer group 中的消費者名稱
	ID string

	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Auction AuctionConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// ConsumerGroup 是帳本歸檔工作者所屬的 consumer group
	ConsumerGroup string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	// Events 承載房間事件的跨節點轉發
	Events string
	// Ledger 承載待歸檔的已接受出價
	Ledger string
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type AuctionConfig struct {
	// MinIncrement 是最小出價增額
	MinIncrement int64
	// IdleTimeout 是開放場次的閒置逾時，超過後自動結束
	IdleTimeout time.Duration
	// SweepInterval 是閒置清掃的間隔
	SweepInterval time.Duration
}
