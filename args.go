package main

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bidstream/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("instance-id", "", "")

	// auth config
	pflag.String("auth-secret", "", "")
	pflag.String("auth-issuer", "bidstream", "")
	pflag.Duration("auth-token-ttl", 7*24*time.Hour, "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "bidstream:", "")
	pflag.String("redis-consumer-group", "bidstream-ledger-archive", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "bidstream-shared-event-stream", "")
	pflag.String("redis-stream-key-for-ledger", "bidstream-shared-ledger-stream", "")

	// auction config
	pflag.Int64("auction-min-increment", 1, "")
	pflag.Duration("auction-idle-timeout", 5*time.Minute, "")
	pflag.Duration("auction-sweep-interval", 30*time.Second, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BIDSTREAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// 沒指定實例識別時就隨機產生一個，consumer group 靠它區分消費者
	instanceID := viper.GetString("instance-id")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			ID: instanceID,
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
					Ledger: viper.GetString("redis-stream-key-for-ledger"),
				},
			},
			Auth: api.AuthConfig{
				Secret:   viper.GetString("auth-secret"),
				Issuer:   viper.GetString("auth-issuer"),
				TokenTTL: viper.GetDuration("auth-token-ttl"),
			},
			Auction: api.AuctionConfig{
				MinIncrement:  viper.GetInt64("auction-min-increment"),
				IdleTimeout:   viper.GetDuration("auction-idle-timeout"),
				SweepInterval: viper.GetDuration("auction-sweep-interval"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" && args.ServerConfig.Auth.Secret != "" && args.ServerConfig.DB.Host != "" && args.ServerConfig.Redis.Addr != ""
}
