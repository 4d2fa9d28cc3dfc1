package pipe

import (
	"fmt"
	"log/slog"

	"github.com/bakkerme/agentpipe/internal/agent/gradient"
	"github.com/bakkerme/agentpipe/internal/config"
	"github.com/bakkerme/agentpipe/internal/enhance"
	"github.com/bakkerme/agentpipe/internal/imagemap"
	"github.com/bakkerme/agentpipe/internal/spaces"
)

// NewFromEnv assembles the full pipe from environment configuration. Signing
// enabled without credentials logs a warning and runs unsigned; a broken
// image map file is a hard error since the operator pointed at it explicitly.
func NewFromEnv(cfg config.EnvConfig, logger *slog.Logger) (*Pipe, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var signer enhance.Signer
	if cfg.Spaces.SigningEnabled {
		s, err := spaces.NewSigner(cfg.Spaces)
		if err != nil {
			logger.Warn("url signing disabled", "error", err)
		} else {
			signer = s
		}
	}

	var imageMap *imagemap.Map
	if cfg.Images.MapFile != "" {
		m, err := imagemap.Load(cfg.Images.MapFile)
		if err != nil {
			return nil, fmt.Errorf("pipe: load image map: %w", err)
		}
		imageMap = m
		logger.Info("loaded keyword image map", "file", cfg.Images.MapFile, "entries", len(m.Images))
	}

	enhancer, err := enhance.New(cfg.Images, cfg.Chat, signer, imageMap, logger)
	if err != nil {
		return nil, err
	}

	return New(gradient.NewClient(cfg.Agent), enhancer, cfg.Chat.StreamingEnabled, logger), nil
}
