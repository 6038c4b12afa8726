package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/AnishMulay/kfsaccess/clients/kfsaccess"
	"github.com/AnishMulay/kfsaccess/internal/config"
	"github.com/mark3labs/mcp-go/server"
)

// LoadConfig reads the client config at path. A missing file is created
// with the defaults so it can be edited for the next run.
func LoadConfig(path string) (config.ClientConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.DefaultClientConfig()
		cfg.ServerAddr = "localhost:20000"
		cfg.ClientID = "kfs-mcp"
		if err := config.WriteFile(path, cfg); err != nil {
			return cfg, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}
	return config.LoadClientConfig(path)
}

func main() {
	configPath := flag.String("config", "mcp.yaml", "Client config file")
	serverAddr := flag.String("server", "", "Metaserver address, overrides the config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *serverAddr != "" {
		cfg.ServerAddr = *serverAddr
	}

	fs, err := kfsaccess.NewKfsAccessWithConfig(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.ServerAddr, err)
	}
	defer fs.Close()

	s := server.NewMCPServer(
		"kfs",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, &tools{fs: fs})

	// stdout carries the protocol; diagnostics go to stderr.
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}
}
