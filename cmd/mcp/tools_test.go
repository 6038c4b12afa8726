package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/AnishMulay/kfsaccess/clients/kfsaccess"
	"github.com/AnishMulay/kfsaccess/internal/config"
	"github.com/AnishMulay/kfsaccess/servers/simple"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTools(t *testing.T) *tools {
	t.Helper()
	cfg := config.DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.LogFormat = "none"
	cfg.ChunkSize = 16

	node, err := simple.Build(cfg)
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(func() { _ = node.Stop() })

	ccfg := config.DefaultClientConfig()
	ccfg.ServerAddr = node.Addr()
	fs, err := kfsaccess.NewKfsAccessWithConfig(ccfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return &tools{fs: fs}
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text, res.IsError
	case *mcp.TextContent:
		return c.Text, res.IsError
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return "", false
}

func TestTools(t *testing.T) {
	tl := newTools(t)

	text, isErr := call(t, tl.mkdirs, map[string]any{"path": "/docs"})
	require.False(t, isErr, text)

	text, isErr = call(t, tl.writeFile, map[string]any{"path": "/docs/a.txt", "content": "hello chunked world"})
	require.False(t, isErr, text)
	assert.Equal(t, "wrote 19 bytes to /docs/a.txt", text)

	text, _ = call(t, tl.listDir, map[string]any{"path": "/"})
	assert.Equal(t, "d docs/\n", text)
	text, _ = call(t, tl.listDir, map[string]any{"path": "/docs"})
	assert.Equal(t, "- a.txt 19\n", text)

	text, isErr = call(t, tl.readFile, map[string]any{"path": "/docs/a.txt"})
	require.False(t, isErr, text)
	assert.Equal(t, "hello chunked world", text)
	text, _ = call(t, tl.readFile, map[string]any{"path": "/docs/a.txt", "offset": float64(6), "length": float64(7)})
	assert.Equal(t, "chunked", text)

	text, _ = call(t, tl.stat, map[string]any{"path": "/docs/a.txt"})
	assert.Contains(t, text, "type: file")
	assert.Contains(t, text, "chunks: 2")

	text, _ = call(t, tl.dataLocation, map[string]any{"path": "/docs/a.txt", "length": float64(100)})
	assert.Contains(t, text, "chunk 1: ")
	text, _ = call(t, tl.dataLocation, map[string]any{"path": "/docs/a.txt", "offset": float64(100), "length": float64(1)})
	assert.Equal(t, "no chunks in range\n", text)

	text, isErr = call(t, tl.rename, map[string]any{"src": "/docs/a.txt", "dst": "/docs/b.txt"})
	require.False(t, isErr, text)

	tests := []struct {
		name string
		h    handler
		args map[string]any
	}{
		{"missing argument", tl.stat, map[string]any{}},
		{"stat missing", tl.stat, map[string]any{"path": "/docs/a.txt"}},
		{"read directory", tl.readFile, map[string]any{"path": "/docs"}},
		{"rmdir non-empty", tl.rmdir, map[string]any{"path": "/docs"}},
		{"remove directory", tl.remove, map[string]any{"path": "/docs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, isErr := call(t, tt.h, tt.args)
			assert.True(t, isErr)
		})
	}

	_, isErr = call(t, tl.remove, map[string]any{"path": "/docs/b.txt"})
	assert.False(t, isErr)
	_, isErr = call(t, tl.rmdir, map[string]any{"path": "/docs"})
	assert.False(t, isErr)
}

func TestLoadConfig_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mcp.yaml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:20000", cfg.ServerAddr)
	assert.FileExists(t, path)

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
