package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/cheildo/arena-coordinator/internal/bracket"
	"github.com/cheildo/arena-coordinator/internal/gateway"
	"github.com/cheildo/arena-coordinator/internal/pkg/database"
	"github.com/cheildo/arena-coordinator/internal/pkg/kafka"
	"github.com/cheildo/arena-coordinator/internal/pkg/redis"
	"github.com/cheildo/arena-coordinator/internal/tournament"
)

type config struct {
	HTTPPort        string
	GRPCPort        string
	DiagnosticsPort string
	LogLevel        string

	Challonge   bracket.ChallongeConfig
	Arenas      int
	Priority    []int
	Coordinator tournament.Config
	Websocket   gateway.Config

	KafkaEnabled    bool
	Kafka           kafka.ProducerConfig
	RedisEnabled    bool
	Redis           redis.Config
	RedisChannel    string
	PostgresEnabled bool
	Database        database.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_server.port", "8080")
	v.SetDefault("grpc_server.port", "9090")
	v.SetDefault("diagnostics.port", "")
	v.SetDefault("log.level", "info")

	v.SetDefault("challonge.base_url", bracket.DefaultBaseURL)
	v.SetDefault("challonge.timeout_seconds", 15)

	v.SetDefault("arenas.count", 4)
	v.SetDefault("arenas.priority", []int{})

	v.SetDefault("coordinator.mailbox_size", 64)
	v.SetDefault("coordinator.call_timeout_seconds", 10)
	v.SetDefault("coordinator.sweep_interval_seconds", 0)

	v.SetDefault("websocket.read_buffer", 1024)
	v.SetDefault("websocket.write_buffer", 1024)
	v.SetDefault("websocket.outbox_size", 32)

	v.SetDefault("events.kafka.enabled", false)
	v.SetDefault("events.kafka.topic", "arena-events")
	v.SetDefault("events.kafka.async", true)
	v.SetDefault("events.redis.enabled", false)
	v.SetDefault("events.redis.channel", "arena-events")
	v.SetDefault("events.postgres.enabled", false)
	v.SetDefault("database.ssl_mode", "disable")
}

// loadConfig reads an optional .env, the YAML file under configPath and the
// environment, in increasing order of precedence.
func loadConfig(configPath string) (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("coordinator")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	priority, err := intList(v.Get("arenas.priority"))
	if err != nil {
		return config{}, fmt.Errorf("arenas.priority: %w", err)
	}

	cfg := config{
		HTTPPort:        v.GetString("http_server.port"),
		GRPCPort:        v.GetString("grpc_server.port"),
		DiagnosticsPort: v.GetString("diagnostics.port"),
		LogLevel:        v.GetString("log.level"),
		Challonge: bracket.ChallongeConfig{
			BaseURL:    v.GetString("challonge.base_url"),
			Username:   v.GetString("challonge.username"),
			APIKey:     v.GetString("challonge.api_key"),
			Tournament: v.GetString("challonge.tournament"),
			Timeout:    v.GetDuration("challonge.timeout_seconds") * time.Second,
		},
		Arenas:   v.GetInt("arenas.count"),
		Priority: priority,
		Coordinator: tournament.Config{
			Tournament:    v.GetString("challonge.tournament"),
			CallTimeout:   v.GetDuration("coordinator.call_timeout_seconds") * time.Second,
			SweepInterval: v.GetDuration("coordinator.sweep_interval_seconds") * time.Second,
			MailboxSize:   v.GetInt("coordinator.mailbox_size"),
		},
		Websocket: gateway.Config{
			ReadBufferSize:  v.GetInt("websocket.read_buffer"),
			WriteBufferSize: v.GetInt("websocket.write_buffer"),
			OutboxSize:      v.GetInt("websocket.outbox_size"),
		},
		KafkaEnabled: v.GetBool("events.kafka.enabled"),
		Kafka: kafka.ProducerConfig{
			Brokers: kafka.SplitBrokers(v.GetStringSlice("events.kafka.brokers")),
			Topic:   v.GetString("events.kafka.topic"),
			Async:   v.GetBool("events.kafka.async"),
		},
		RedisEnabled: v.GetBool("events.redis.enabled"),
		Redis: redis.Config{
			Addr:     v.GetString("events.redis.addr"),
			Password: v.GetString("events.redis.password"),
			DB:       v.GetInt("events.redis.db"),
		},
		RedisChannel:    v.GetString("events.redis.channel"),
		PostgresEnabled: v.GetBool("events.postgres.enabled"),
		Database: database.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.db_name"),
			SSLMode:  v.GetString("database.ssl_mode"),
		},
	}
	return cfg, cfg.validate()
}

// intList reads a YAML list as is. A string, as set through the
// environment, is split on commas and whitespace.
func intList(raw any) ([]int, error) {
	if raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return cast.ToIntSliceE(raw)
	}

	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid entry %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

func (c config) validate() error {
	var errs []error
	if c.Challonge.APIKey == "" {
		errs = append(errs, errors.New("challonge.api_key is required"))
	}
	if c.Challonge.Tournament == "" {
		errs = append(errs, errors.New("challonge.tournament is required"))
	}
	if c.Arenas <= 0 {
		errs = append(errs, fmt.Errorf("arenas.count must be positive, got %d", c.Arenas))
	}
	if c.KafkaEnabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("events.kafka.brokers is required when kafka is enabled"))
	}
	if c.RedisEnabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("events.redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}
