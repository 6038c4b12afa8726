package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/AnishMulay/kfsaccess/internal/config"
	"github.com/AnishMulay/kfsaccess/servers/simple"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		nodeID     = flag.String("node-id", "", "Node ID")
		listen     = flag.String("listen", "", "Listen address")
		advertise  = flag.String("advertise", "", "Address clients reach this node on")
		dataDir    = flag.String("data-dir", "", "Data directory")
		chunkSize  = flag.Int64("chunk-size", 0, "Chunk size in bytes")
		cluster    = flag.String("cluster", "", "Membership backend (static, etcd)")
		endpoints  = flag.String("etcd-endpoints", "", "Comma-separated etcd endpoints")
		peers      = flag.String("peers", "", "Comma-separated id=addr chunk servers for a static cluster")
		logLevel   = flag.String("log-level", "", "DEBUG, INFO, WARN or ERROR")
		logFormat  = flag.String("log-format", "", "file, zap or none")
	)
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			cfg.NodeID = *nodeID
		case "listen":
			cfg.ListenAddr = *listen
		case "advertise":
			cfg.AdvertiseAddr = *advertise
		case "data-dir":
			cfg.DataDir = *dataDir
		case "chunk-size":
			cfg.ChunkSize = *chunkSize
		case "cluster":
			cfg.Cluster.Type = *cluster
		case "etcd-endpoints":
			cfg.Cluster.Endpoints = strings.Split(*endpoints, ",")
		case "peers":
			nodes, perr := parsePeers(*peers)
			if perr != nil {
				log.Fatalf("Bad -peers: %v", perr)
			}
			cfg.Cluster.Nodes = nodes
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	node, err := simple.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build metaserver: %v", err)
	}
	if err := node.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func parsePeers(s string) ([]config.NodeConfig, error) {
	var nodes []config.NodeConfig
	for _, p := range strings.Split(s, ",") {
		if p == "" {
			continue
		}
		id, addr, ok := strings.Cut(p, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("expected id=addr, got %q", p)
		}
		nodes = append(nodes, config.NodeConfig{ID: id, Address: addr})
	}
	return nodes, nil
}
