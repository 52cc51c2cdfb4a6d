package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/httpapi"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/patient"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/tools"
	"github.com/ent0n29/voicerelay/internal/transcript"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Registry[*relay.Relay]
	Tools    *tools.Registry
	Store    transcript.Store
	Metrics  *observability.Metrics
	Auth     AuthInfo

	// Cleanup releases external resources (DB pool) on shutdown.
	Cleanup func() error
}

// Options overrides collaborators that are otherwise derived from config.
type Options struct {
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Dialer    relay.Dialer
	Directory *patient.Directory
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	directory := opts.Directory
	if directory == nil {
		directory = patient.MockDirectory()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = relay.WebsocketDialer{Logger: logger}
	}

	store, err := transcript.NewStore(ctx, cfg.TranscriptStore, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	registry := tools.NewRegistry(logger, metrics)
	if err := errors.Join(
		tools.RegisterOrderTools(registry, tools.MockOrderBook()),
		tools.RegisterTelehealthTools(registry, &tools.Telehealth{Directory: directory}),
	); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("tool registration failed: %w", err)
	}

	credentials, authInfo := resolveCredentials(cfg)

	sessions := session.NewRegistry[*relay.Relay]()
	sessions.SetChangeHook(metrics.SetActiveSessions)

	relayOpts := relay.Options{
		Endpoint:   cfg.VoiceLiveEndpoint,
		Model:      cfg.VoiceLiveModel,
		APIVersion: cfg.VoiceLiveAPIVersion,
		Voice: protocol.Voice{
			Name:        cfg.VoiceName,
			Type:        cfg.VoiceType,
			Temperature: cfg.VoiceTemperature,
		},
		FallbackVoice: protocol.Voice{
			Name:        cfg.FallbackVoiceName,
			Type:        cfg.FallbackVoiceType,
			Temperature: cfg.VoiceTemperature,
		},
		InputTranscriptionModel: cfg.InputTranscriptionModel,
		MaxPendingAudio:         cfg.OutboundMaxPending,
	}
	loader := patientLoader(directory)

	newRelay := func(client relay.ClientSink) *relay.Relay {
		return relay.New(relayOpts, relay.Deps{
			Logger:      logger,
			Metrics:     metrics,
			Tools:       registry,
			Registry:    sessions,
			Credentials: credentials,
			Dialer:      dialer,
			Client:      client,
			Store:       store,
			Loader:      loader,
		})
	}

	api := httpapi.New(cfg, sessions, newRelay, store, metrics, logger)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Tools:    registry,
		Store:    store,
		Metrics:  metrics,
		Auth:     authInfo,
		Cleanup:  store.Close,
	}, nil
}

// patientLoader serves background context for a caller from the patient
// directory.
func patientLoader(d *patient.Directory) relay.ContextLoader {
	return relay.ContextLoaderFunc(func(ctx context.Context, subjectID string) (relay.ContextDocument, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		profile, overview, err := d.Load(ctx, subjectID)
		if err != nil {
			return relay.ContextDocument{}, err
		}
		return relay.ContextDocument{
			SubjectID: subjectID,
			Profile:   profile,
			Overview:  overview,
		}, nil
	})
}
