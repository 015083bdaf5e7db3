package config

import (
	"time"

	"MaterniChat/logger"
	ids "MaterniChat/tools/ids"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	NodeTypeGateway = "consultGateway" // reference gateway node
	NodeTypeClient  = "consultClient"  // engine demo client
)

// EngineConfig carries the knobs of the consultation client engine. The
// transport retry bound and the UI alert threshold are deliberately two
// independent values.
type EngineConfig struct {
	Endpoint          string        `json:"endpoint"`
	MaxRetries        int           `json:"max_retries"`         // reconnect attempts before failed
	RetryDelay        time.Duration `json:"retry_delay"`         // fixed inter-attempt delay
	AckTimeout        time.Duration `json:"ack_timeout"`         // bounded wait per outbound message
	JoinTimeout       time.Duration `json:"join_timeout"`        // bounded wait for server room resolve
	AlertAfterRetries int           `json:"alert_after_retries"` // UI suppression threshold for timeout-class errors
}

func DefaultEngine() EngineConfig {
	return EngineConfig{
		MaxRetries:        5,
		RetryDelay:        1000 * time.Millisecond,
		AckTimeout:        10 * time.Second,
		JoinTimeout:       5 * time.Second,
		AlertAfterRetries: 3,
	}
}

// Norm fills zero fields with defaults; a zero EngineConfig is usable after
// Norm apart from the endpoint.
func (c *EngineConfig) Norm() {
	d := DefaultEngine()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.AlertAfterRetries <= 0 {
		c.AlertAfterRetries = d.AlertAfterRetries
	}
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type NatsConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// GatewayConfig configures the reference chat gateway.
type GatewayConfig struct {
	NodeID    string      `json:"node_id"`
	Port      int         `json:"port"`
	JWTSecret string      `json:"jwt_secret"`
	Redis     RedisConfig `json:"redis"`
	Mongo     MongoConfig `json:"mongo"`
	Nats      NatsConfig  `json:"nats"`
}

func DefaultGateway() GatewayConfig {
	return GatewayConfig{
		NodeID: "consult-gw-1",
		Port:   8080,
	}
}

type AppConfig struct {
	NodeType string        `json:"node_type"`
	Engine   EngineConfig  `json:"engine"`
	Gateway  GatewayConfig `json:"gateway"`
}

var Global = AppConfig{
	NodeType: NodeTypeClient,
	Engine:   DefaultEngine(),
	Gateway:  DefaultGateway(),
}

// Load decodes a map-shaped config (flag/env/file loaders all hand over
// maps) into Global, then normalizes.
func Load(raw map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &Global,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "build config decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return errors.Wrap(err, "decode config")
	}
	Global.Engine.Norm()
	return nil
}

func ConfigIds(nodeID int64) {
	logger.Infof("configure id generator node=%d", nodeID)
	ids.SetNodeID(nodeID)
}
