package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AnishMulay/kfsaccess/clients/kfsaccess"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const maxToolRead = 1 << 20

type tools struct {
	fs *kfsaccess.KfsAccess
}

func addTools(s *server.MCPServer, t *tools) {
	s.AddTool(mcp.NewTool("list_dir",
		mcp.WithDescription("List a directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path")),
	), t.listDir)

	s.AddTool(mcp.NewTool("stat",
		mcp.WithDescription("Show the attributes of a file or directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to inspect")),
	), t.stat)

	s.AddTool(mcp.NewTool("mkdirs",
		mcp.WithDescription("Create a directory and any missing parents"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path")),
	), t.mkdirs)

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file, or a byte range of it, as text"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
		mcp.WithNumber("offset", mcp.Description("Byte offset to start at")),
		mcp.WithNumber("length", mcp.Description("Bytes to read; defaults to the rest of the file")),
	), t.readFile)

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create or truncate a file and write content to it"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to store")),
	), t.writeFile)

	s.AddTool(mcp.NewTool("rename",
		mcp.WithDescription("Rename a file or directory"),
		mcp.WithString("src", mcp.Required(), mcp.Description("Existing path")),
		mcp.WithString("dst", mcp.Required(), mcp.Description("New path")),
		mcp.WithBoolean("overwrite", mcp.Description("Replace dst if it exists")),
	), t.rename)

	s.AddTool(mcp.NewTool("remove",
		mcp.WithDescription("Remove a file"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
	), t.remove)

	s.AddTool(mcp.NewTool("rmdir",
		mcp.WithDescription("Remove an empty directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path")),
	), t.rmdir)

	s.AddTool(mcp.NewTool("data_location",
		mcp.WithDescription("Show which servers hold the chunks of a byte range"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
		mcp.WithNumber("offset", mcp.Description("Byte offset")),
		mcp.WithNumber("length", mcp.Required(), mcp.Description("Range length in bytes")),
	), t.dataLocation)
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func (t *tools) listDir(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	entries, err := t.fs.ReaddirPlus(path)
	if err != nil {
		return toolError(err)
	}

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&b, "d %s/\n", e.Name)
		} else {
			fmt.Fprintf(&b, "- %s %d\n", e.Name, e.Size)
		}
	}
	if b.Len() == 0 {
		b.WriteString("(empty)\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *tools) stat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	info, err := t.fs.Stat(path)
	if err != nil {
		return toolError(err)
	}
	kind := "file"
	if info.IsDir {
		kind = "directory"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"name: %s\ntype: %s\nsize: %d\nreplication: %d\nchunks: %d\nmodified: %s\n",
		info.Name, kind, info.Size, info.Replication, info.ChunkCount, info.ModTime.Format(time.RFC3339),
	)), nil
}

func (t *tools) mkdirs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	if err := t.fs.Mkdirs(path); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("created " + path), nil
}

func (t *tools) readFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	offset := int64(request.GetFloat("offset", 0))
	length := int64(request.GetFloat("length", maxToolRead))
	if length <= 0 || length > maxToolRead {
		length = maxToolRead
	}

	in, err := t.fs.Open(path)
	if err != nil {
		return toolError(err)
	}
	defer in.Close()

	if _, err := in.Seek(offset, io.SeekStart); err != nil {
		return toolError(err)
	}
	data, err := io.ReadAll(io.LimitReader(in, length))
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *tools) writeFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	content, err := request.RequireString("content")
	if err != nil {
		return toolError(err)
	}

	out, err := t.fs.Create(path)
	if err != nil {
		return toolError(err)
	}
	n, werr := out.Write([]byte(content))
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return toolError(werr)
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", n, path)), nil
}

func (t *tools) rename(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := request.RequireString("src")
	if err != nil {
		return toolError(err)
	}
	dst, err := request.RequireString("dst")
	if err != nil {
		return toolError(err)
	}
	if err := t.fs.Rename(src, dst, request.GetBool("overwrite", false)); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed %s to %s", src, dst)), nil
}

func (t *tools) remove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	if err := t.fs.Remove(path); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("removed " + path), nil
}

func (t *tools) rmdir(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	if err := t.fs.Rmdir(path); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("removed " + path), nil
}

func (t *tools) dataLocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	offset := int64(request.GetFloat("offset", 0))
	length := int64(request.GetFloat("length", 0))

	locs, err := t.fs.GetDataLocation(path, offset, length)
	if err != nil {
		return toolError(err)
	}
	if len(locs) == 0 {
		return mcp.NewToolResultText("no chunks in range\n"), nil
	}
	var b strings.Builder
	for i, replicas := range locs {
		fmt.Fprintf(&b, "chunk %d: %s\n", i, strings.Join(replicas, " "))
	}
	return mcp.NewToolResultText(b.String()), nil
}
