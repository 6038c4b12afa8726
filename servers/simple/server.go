package simple

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chunkservice "github.com/AnishMulay/kfsaccess/internal/chunk_service/local_disc"
	"github.com/AnishMulay/kfsaccess/internal/cluster_service"
	clusteretcd "github.com/AnishMulay/kfsaccess/internal/cluster_service/etcd"
	clusterstatic "github.com/AnishMulay/kfsaccess/internal/cluster_service/static"
	grpccomm "github.com/AnishMulay/kfsaccess/internal/communication/grpc"
	"github.com/AnishMulay/kfsaccess/internal/config"
	fileservice "github.com/AnishMulay/kfsaccess/internal/file_service/simple"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
	locallog "github.com/AnishMulay/kfsaccess/internal/log_service/localdisc"
	"github.com/AnishMulay/kfsaccess/internal/log_service/zaplog"
	metadataservice "github.com/AnishMulay/kfsaccess/internal/metadata_service/inmemory"
	"github.com/AnishMulay/kfsaccess/internal/server"
	simpleserver "github.com/AnishMulay/kfsaccess/internal/server/simple"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const stopTimeout = 5 * time.Second

// Node is one development metaserver: namespace, chunk store and gateway
// in a single process.
type Node struct {
	cfg            config.ServerConfig
	ls             log_service.LogService
	server         server.Server
	clusterService cluster_service.ClusterService
	closeLog       func() error
}

func Build(cfg config.ServerConfig) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 1. Logging
	ls, zl, closeLog, err := buildLogging(cfg)
	if err != nil {
		return nil, err
	}

	// 2. Communication
	comm := grpccomm.NewGRPCCommunicator(cfg.ListenAddr, ls)

	// 3. Cluster Service (The Phonebook)
	var clusterService cluster_service.ClusterService
	switch cfg.Cluster.Type {
	case config.ClusterEtcd:
		clusterService = clusteretcd.NewEtcdClusterService(cfg.Cluster.Endpoints, cfg.Cluster.Prefix, zl, ls)
	default:
		nodes := make([]cluster_service.ClusterNode, 0, len(cfg.Cluster.Nodes))
		for _, n := range cfg.Cluster.Nodes {
			nodes = append(nodes, cluster_service.ClusterNode{ID: n.ID, Address: n.Address})
		}
		clusterService = clusterstatic.NewStaticClusterService(nodes, ls)
	}

	// 4. Core Services (The Logic Layer)
	ms := metadataservice.NewInMemoryMetadataService(cfg.ChunkSize, cluster_service.NewPlacement(clusterService), ls)

	chunkDir := filepath.Join(cfg.DataDir, "chunks", cfg.NodeID)
	cs, err := chunkservice.NewLocalDiscChunkService(chunkDir, ls)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	fs := fileservice.NewSimpleFileService(ms, cs, ls)

	// 5. Server (The Gateway)
	srv := simpleserver.NewSimpleServer(cfg.NodeID, comm, fs, ls)

	return &Node{
		cfg:            cfg,
		ls:             ls,
		server:         srv,
		clusterService: clusterService,
		closeLog:       closeLog,
	}, nil
}

func buildLogging(cfg config.ServerConfig) (log_service.LogService, *zap.Logger, func() error, error) {
	switch cfg.LogFormat {
	case "zap", "json":
		zl, err := zaplog.NewZapLogService(cfg.NodeID, cfg.LogLevel)
		if err != nil {
			return nil, nil, nil, err
		}
		return zl, zl.Logger(), func() error { _ = zl.Sync(); return nil }, nil
	case "none":
		return zaplog.NewNop(), nil, func() error { return nil }, nil
	default:
		ls, err := locallog.NewLocalDiscLogService(filepath.Join(cfg.DataDir, "logs"), cfg.NodeID, cfg.LogLevel)
		if err != nil {
			return nil, nil, nil, err
		}
		return ls, nil, ls.Close, nil
	}
}

// Start brings the node up and registers it as a chunk location. With a
// configured advertise address the node registers before it accepts
// connections, so the first client request can already place chunks.
func (n *Node) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := n.clusterService.Start(ctx); err != nil {
		return err
	}

	early := n.cfg.AdvertiseAddr != ""
	if early {
		if err := n.register(); err != nil {
			_ = n.clusterService.Stop(ctx)
			return err
		}
	}
	if err := n.server.Start(); err != nil {
		_ = n.clusterService.Stop(ctx)
		return err
	}
	if !early {
		if err := n.register(); err != nil {
			_ = n.server.Stop()
			_ = n.clusterService.Stop(ctx)
			return err
		}
	}

	n.ls.Info(log_service.LogEvent{
		Message:  "Metaserver ready",
		Metadata: map[string]any{"nodeID": n.cfg.NodeID, "listen": n.server.Addr(), "advertise": n.advertiseAddr()},
	})
	return nil
}

func (n *Node) register() error {
	if err := n.clusterService.RegisterNode(cluster_service.ClusterNode{
		ID:      n.cfg.NodeID,
		Address: n.advertiseAddr(),
	}); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

// advertiseAddr is the configured address, or the bound one with an
// unspecified host replaced by the hostname.
func (n *Node) advertiseAddr() string {
	if n.cfg.AdvertiseAddr != "" {
		return n.cfg.AdvertiseAddr
	}
	addr := n.server.Addr()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		if h, err := os.Hostname(); err == nil {
			return net.JoinHostPort(h, port)
		}
	}
	return addr
}

func (n *Node) Addr() string {
	return n.server.Addr()
}

func (n *Node) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	err := n.server.Stop()
	err = multierr.Append(err, n.clusterService.Stop(ctx))
	err = multierr.Append(err, n.closeLog())
	return err
}

// Run starts the node and blocks until SIGINT or SIGTERM.
func (n *Node) Run() error {
	if err := n.Start(); err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	return n.Stop()
}
