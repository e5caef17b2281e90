package journal

import (
	"fmt"

	"jt-go/internal/config"
	"jt-go/internal/jt"
)

// NewSourceFromConfig creates a JournalSource based on the volume config type.
func NewSourceFromConfig(cfg config.VolumeConfig) (jt.JournalSource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("volume name required")
	}
	switch cfg.Type {
	case "usn":
		device := cfg.Device
		if device == "" {
			device = `\\.\` + cfg.Name
		}
		return NewUSNSource(device)
	case "dump":
		if cfg.DumpDir == "" {
			return nil, fmt.Errorf("dump volume %s requires dump_dir to be set", cfg.Name)
		}
		return NewDumpSource(cfg.DumpDir), nil
	case "memory":
		return NewMemorySource(), nil
	default:
		return nil, fmt.Errorf("unknown volume type: %s", cfg.Type)
	}
}

// NewRouterFromConfig builds a Router over every configured volume.
func NewRouterFromConfig(volumes []config.VolumeConfig) (*Router, error) {
	r := NewRouter()
	for _, v := range volumes {
		if _, dup := r.Source(v.Name); dup {
			return nil, fmt.Errorf("volume %s configured twice", v.Name)
		}
		src, err := NewSourceFromConfig(v)
		if err != nil {
			return nil, fmt.Errorf("creating journal source for %s: %w", v.Name, err)
		}
		r.Add(v.Name, src)
	}
	return r, nil
}
