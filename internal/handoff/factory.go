package handoff

import (
	"context"
	"fmt"

	"jt-go/internal/config"
	"jt-go/internal/jt"
)

// NewSinkFromConfig creates a HandoffSink based on the hand-off config type.
// "none" returns a nil sink, which makes expiry discard records. enc is
// used only when cfg.Encrypt is set.
func NewSinkFromConfig(ctx context.Context, cfg config.HandoffConfig, enc jt.Encryptor) (jt.HandoffSink, error) {
	if !cfg.Encrypt {
		enc = nil
	} else if enc == nil {
		return nil, fmt.Errorf("hand-off encryption is enabled but no encryptor is configured")
	}

	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemorySink(), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem hand-off requires dir to be set")
		}
		return NewFileSink(cfg.Dir, enc)
	case "s3":
		return NewS3Sink(ctx, cfg, enc)
	default:
		return nil, fmt.Errorf("unknown hand-off type: %s", cfg.Type)
	}
}
