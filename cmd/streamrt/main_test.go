package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFlags(t *testing.T) {
	t.Setenv("STREAMRT_ITEMS", "42")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cli, err := parseFlags(fs, []string{"--log-level=debug", "--shutdown-timeout=3s"})
	require.NoError(t, err)

	assert.Equal(t, uint64(42), cli.Items)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, 3*time.Second, cli.ShutdownTimeout)
	assert.NoError(t, validateFlags(cli))

	cli.LogFormat = "xml"
	assert.Error(t, validateFlags(cli))
	cli.LogFormat, cli.ConfigPath = "", "/does/not/exist.yaml"
	assert.Error(t, validateFlags(cli))
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, &out))
	assert.Contains(t, out.String(), Version)
}

func TestBuildFlow(t *testing.T) {
	f, err := buildFlow(100, false)
	require.NoError(t, err)
	assert.Len(t, f.blocks, 4)
	assert.Len(t, f.graph.Edges(), 3)

	f, err = buildFlow(0, true)
	require.NoError(t, err)
	assert.Len(t, f.blocks, 3, "no head when unbounded")
	edges := f.graph.Edges()
	require.NotNil(t, edges[len(edges)-1].Buffer)
	assert.Nil(t, edges[0].Buffer)

	parts, err := f.partitions(config.Default())
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, receiverPartition, parts[0].Name)
}

func TestRunFlow_Local(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.PollInterval = config.Duration(5 * time.Millisecond)
	cfg.Schedulers = []config.SchedulerConfig{{Name: "front", Blocks: []string{sourceName, headName}}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, runFlow(ctx, cfg, 50_000, 5*time.Second, quietLogger()))
}

func TestRunFlow_WebSocketEdge(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.PollInterval = config.Duration(5 * time.Millisecond)
	cfg.Network.Transport = config.TransportWebSocket
	cfg.Network.URL = "ws://127.0.0.1:0/edge"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, runFlow(ctx, cfg, 20_000, 5*time.Second, quietLogger()))
}

func TestRunFlow_InterruptedUnboundedFlow(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.PollInterval = config.Duration(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, runFlow(ctx, cfg, 0, 5*time.Second, quietLogger()))
}

func TestRunFlow_UnknownPartitionBlock(t *testing.T) {
	cfg := config.Default()
	cfg.Schedulers = []config.SchedulerConfig{{Name: "x", Blocks: []string{"fir"}}}
	err := runFlow(context.Background(), cfg, 10, time.Second, quietLogger())
	require.Error(t, err)
}
