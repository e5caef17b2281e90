package encryption

import (
	"fmt"

	"jt-go/internal/config"
	"jt-go/internal/jt"
)

// NewEncryptorFromConfig returns the hand-off encryptor for cfg, or nil
// when batches are written in the clear.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (jt.Encryptor, error) {
	switch cfg.Type {
	case "", "age":
		return NewAgeEncryptor(cfg), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown encryption type %q (want age or none)", cfg.Type)
}
