// Package app assembles the service: config, devices, transport, session,
// history, metrics and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkrogh/taletid/internal/codec"
	"github.com/mkrogh/taletid/internal/config"
	"github.com/mkrogh/taletid/internal/device"
	"github.com/mkrogh/taletid/internal/history"
	"github.com/mkrogh/taletid/internal/httpapi"
	"github.com/mkrogh/taletid/internal/observability"
	"github.com/mkrogh/taletid/internal/session"
	"github.com/mkrogh/taletid/internal/transport"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Connection *session.Connection
	Store      history.Store
	Metrics    *observability.Metrics
	Latency    *observability.LatencyWindow

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(cfg.LatencyWindowSize)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	voice, ok := transport.VoiceByID(cfg.VoiceID)
	if !ok {
		_ = store.Close()
		return nil, fmt.Errorf("unknown voice %q", cfg.VoiceID)
	}

	input := device.NewFFmpegInput(cfg.FFmpegBinary)
	newOutput := func() (device.OutputContext, error) {
		return device.NewFFPlayOutput(cfg.FFplayBinary, codec.PlaybackSampleRate)
	}
	newTransport := func() transport.Transport {
		return transport.NewWSTransport(transport.WSConfig{
			URL:    cfg.EndpointURL,
			APIKey: cfg.APIKey,
		})
	}

	conn := session.New(session.Config{
		Model:              cfg.Model,
		SystemPrompt:       cfg.SystemPrompt,
		Voice:              voice,
		ConnectTimeout:     cfg.ConnectTimeout,
		SubtitleClearDelay: cfg.SubtitleClearDelay,
		TranscriptCooldown: cfg.TranscriptCooldown,
		RecordingPath:      cfg.RecordingPath,
	}, input, newOutput, newTransport)
	conn.SetMetrics(metrics)

	observer := newObserver(conn, store, metrics, latency)

	api := httpapi.New(cfg, conn, observer, store, metrics, latency)

	cleanup := func() error {
		var errs []string
		conn.Dispose()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Connection: conn,
		Store:      store,
		Metrics:    metrics,
		Latency:    latency,
		Cleanup:    cleanup,
	}, nil
}
