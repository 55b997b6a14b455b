package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aretw0/tiller"
	genaiAdapter "github.com/aretw0/tiller/pkg/adapters/genai"
	mcpAdapter "github.com/aretw0/tiller/pkg/adapters/mcp"
	redisAdapter "github.com/aretw0/tiller/pkg/adapters/redis"
	"github.com/aretw0/tiller/pkg/pack"
	"github.com/aretw0/tiller/pkg/ports"
	"github.com/aretw0/tiller/pkg/registry"
)

// buildEngine wires the pack, the Gemini backend, tool servers, and storage
// from the command's flags. The returned cleanup closes backend connections.
func buildEngine(ctx context.Context, cmd *cobra.Command, args []string, extra ...tiller.Option) (*tiller.Engine, func(), error) {
	packPath, _ := cmd.Flags().GetString("pack")
	if !cmd.Flags().Changed("pack") && len(args) > 0 {
		packPath = args[0]
	}

	p, err := pack.Load(packPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pack: %w", err)
	}

	model, _ := cmd.Flags().GetString("model")
	backendClient, err := genaiAdapter.New(ctx, genaiAdapter.Config{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  model,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init Gemini backend: %w", err)
	}
	cleanup := func() { backendClient.Close() }

	invoker, closeInvoker, err := buildInvoker(ctx, cmd)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if closeInvoker != nil {
		inner := cleanup
		cleanup = func() {
			closeInvoker()
			inner()
		}
	}

	opts := extra
	if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
		client := backend.NewClient(&backend.Options{Addr: addr})
		store := redisAdapter.NewFromClient(client)
		opts = append(opts,
			tiller.WithSessionStore(store),
			tiller.WithJourneyStateStore(store),
			tiller.WithLocker(redisAdapter.NewLocker(client, "tiller")),
		)
		inner := cleanup
		cleanup = func() {
			client.Close()
			inner()
		}
	}

	eng, err := tiller.New(p, backendClient, backendClient, invoker, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

// buildInvoker connects the configured MCP servers, falling back to an empty
// in-process registry when none are given.
func buildInvoker(ctx context.Context, cmd *cobra.Command) (ports.ToolInvoker, func(), error) {
	servers, _ := cmd.Flags().GetStringArray("mcp-sse")
	if len(servers) == 0 {
		return registry.NewRegistry(), nil, nil
	}

	inv := mcpAdapter.NewInvoker(nil)
	for _, entry := range servers {
		namespace, url, ok := strings.Cut(entry, "=")
		if !ok {
			inv.Close()
			return nil, nil, fmt.Errorf("invalid --mcp-sse value %q: expected namespace=url", entry)
		}
		if err := inv.ConnectSSE(ctx, namespace, url); err != nil {
			inv.Close()
			return nil, nil, err
		}
	}
	return inv, func() { inv.Close() }, nil
}
