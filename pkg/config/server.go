package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. HEALTHREC_GRPC_ADDRESS
const EnvPrefix = "HEALTHREC"

// ServerConfig is the configuration of a healthrec server process
type ServerConfig struct {
	DataDir   string           `mapstructure:"data_dir"`
	GRPC      GRPCConfig       `mapstructure:"grpc"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Log       LogConfig        `mapstructure:"log"`
	TLS       TLSConfig        `mapstructure:"tls"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

type GRPCConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Address        string        `mapstructure:"address"`
	MaxRecvMsgSize int           `mapstructure:"max_recv_msg_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.address", "localhost:50051")
	v.SetDefault("grpc.max_recv_msg_size", 4<<20)
	v.SetDefault("grpc.idle_timeout", "60s")
	v.SetDefault("grpc.shutdown_grace", "5s")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.address", "localhost:8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tls.enabled", false)

	tel := telemetry.DefaultConfig()
	v.SetDefault("telemetry.service_name", tel.ServiceName)
	v.SetDefault("telemetry.service_version", tel.ServiceVersion)
	v.SetDefault("telemetry.enabled", tel.Enabled)
	v.SetDefault("telemetry.exporters", tel.Exporters)
	v.SetDefault("telemetry.sample_rate", tel.SampleRate)
	v.SetDefault("telemetry.otlp_endpoint", tel.OTLPEndpoint)
	v.SetDefault("telemetry.otlp_insecure", tel.OTLPInsecure)
	v.SetDefault("telemetry.export_timeout", tel.ExportTimeout)
	v.SetDefault("telemetry.batch_timeout", tel.BatchTimeout)
	v.SetDefault("telemetry.max_queue_size", tel.MaxQueueSize)
	v.SetDefault("telemetry.max_export_batch_size", tel.MaxExportBatchSize)
}

// LoadServerConfig reads the server configuration. An empty path searches
// for healthrec.yaml in the working directory and /etc/healthrec and falls
// back to defaults when none exists; an explicit path must exist.
// HEALTHREC_* environment variables override both.
func LoadServerConfig(path string) (*ServerConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("healthrec")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/healthrec/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the server configuration is usable
func (c *ServerConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory not specified", ErrInvalidConfig)
	}
	if !c.GRPC.Enabled && !c.HTTP.Enabled {
		return fmt.Errorf("%w: neither gRPC nor HTTP is enabled", ErrInvalidConfig)
	}
	if c.GRPC.Enabled && c.GRPC.Address == "" {
		return fmt.Errorf("%w: gRPC address not specified", ErrInvalidConfig)
	}
	if c.HTTP.Enabled && c.HTTP.Address == "" {
		return fmt.Errorf("%w: HTTP address not specified", ErrInvalidConfig)
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("%w: TLS needs both a certificate and a key file", ErrInvalidConfig)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := log.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
