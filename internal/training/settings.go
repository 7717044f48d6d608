package training

import (
	"errors"
	"strings"

	"github.com/animus-labs/ailab/internal/platform/env"
)

// Settings locates the files the trainer reads and writes.
type Settings struct {
	RegistryDir    string
	BuiltinDataDir string
	UploadDir      string
}

func SettingsFromEnv() (Settings, error) {
	cfg := Settings{
		RegistryDir:    strings.TrimSpace(env.String("AILAB_REGISTRY_DIR", "./var/registry")),
		BuiltinDataDir: strings.TrimSpace(env.String("AILAB_BUILTIN_DATA_DIR", "./var/builtin")),
		UploadDir:      strings.TrimSpace(env.String("AILAB_UPLOAD_DIR", "./var/uploads")),
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s Settings) Validate() error {
	if s.RegistryDir == "" {
		return errors.New("AILAB_REGISTRY_DIR is required")
	}
	if s.BuiltinDataDir == "" {
		return errors.New("AILAB_BUILTIN_DATA_DIR is required")
	}
	if s.UploadDir == "" {
		return errors.New("AILAB_UPLOAD_DIR is required")
	}
	return nil
}
