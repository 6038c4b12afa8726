package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ClusterStatic = "static"
	ClusterEtcd   = "etcd"

	DefaultChunkSize   int64 = 64 * 1024 * 1024
	DefaultReplication       = 3

	// MaxTransferSize caps the client write buffer and read size so one
	// encoded request or response stays under the transport message limit.
	MaxTransferSize = 16 << 20
)

var ErrInvalidConfig = errors.New("invalid config")

type NodeConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type ClusterConfig struct {
	Type      string       `yaml:"type"`
	Endpoints []string     `yaml:"endpoints,omitempty"`
	Prefix    string       `yaml:"prefix,omitempty"`
	Nodes     []NodeConfig `yaml:"nodes,omitempty"`
}

// ServerConfig configures one development metaserver node.
type ServerConfig struct {
	NodeID string `yaml:"node_id"`
	// ListenAddr is where the gRPC server binds. AdvertiseAddr, when set, is
	// the address reported as a chunk location instead of the bound one.
	ListenAddr    string        `yaml:"listen_addr"`
	AdvertiseAddr string        `yaml:"advertise_addr,omitempty"`
	DataDir       string        `yaml:"data_dir"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	ChunkSize     int64         `yaml:"chunk_size"`
	Replication   int           `yaml:"replication"`
	Cluster       ClusterConfig `yaml:"cluster"`
}

type ClientConfig struct {
	ServerAddr      string        `yaml:"server_addr"`
	ClientID        string        `yaml:"client_id"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	MaxReadSize     int           `yaml:"max_read_size"`
	Replication     int           `yaml:"replication"`
	LogDir          string        `yaml:"log_dir,omitempty"`
	LogLevel        string        `yaml:"log_level"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		NodeID:      "metaserver-1",
		ListenAddr:  ":20000",
		DataDir:     "./data",
		LogLevel:    "INFO",
		LogFormat:   "file",
		ChunkSize:   DefaultChunkSize,
		Replication: DefaultReplication,
		Cluster: ClusterConfig{
			Type:   ClusterStatic,
			Prefix: "/kfs/nodes/",
		},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ClientID:        "kfsaccess",
		DialTimeout:     5 * time.Second,
		RequestTimeout:  30 * time.Second,
		WriteBufferSize: 1 << 20,
		MaxReadSize:     1 << 20,
		Replication:     DefaultReplication,
		LogLevel:        "ERROR",
	}
}

func (c *ServerConfig) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("%w: node_id is required", ErrInvalidConfig)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Replication <= 0 || c.Replication > 32767 {
		return fmt.Errorf("%w: replication out of range: %d", ErrInvalidConfig, c.Replication)
	}
	switch c.Cluster.Type {
	case ClusterStatic:
	case ClusterEtcd:
		if len(c.Cluster.Endpoints) == 0 {
			return fmt.Errorf("%w: etcd cluster needs endpoints", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cluster type %q", ErrInvalidConfig, c.Cluster.Type)
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server_addr is required", ErrInvalidConfig)
	}
	if c.DialTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.WriteBufferSize <= 0 || c.MaxReadSize <= 0 {
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	}
	if c.WriteBufferSize > MaxTransferSize || c.MaxReadSize > MaxTransferSize {
		return fmt.Errorf("%w: buffer sizes must not exceed %d bytes", ErrInvalidConfig, MaxTransferSize)
	}
	if c.Replication <= 0 || c.Replication > 32767 {
		return fmt.Errorf("%w: replication out of range: %d", ErrInvalidConfig, c.Replication)
	}
	return nil
}

// LoadServerConfig reads path over the defaults. A missing file is not an
// error: the defaults are returned so flags can fill in the rest.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func load(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// WriteFile persists cfg as YAML, creating parent directories.
func WriteFile(path string, cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
