package training

import (
	"fmt"
	"os"

	"github.com/animus-labs/ailab/internal/domain"
	"gopkg.in/yaml.v3"
)

// ParseConfigDocument decodes a YAML or JSON training configuration into a
// structured value. JSON documents are valid YAML.
func ParseConfigDocument(data []byte) (domain.Value, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Value{}, Configurationf("parse training configuration: %v", err)
	}
	v, err := domain.FromAny(raw)
	if err != nil {
		return domain.Value{}, Configurationf("parse training configuration: %v", err)
	}
	if !v.IsNull() && v.Kind() != domain.KindObject {
		return domain.Value{}, Configurationf("training configuration must be an object, got %s", v.Kind())
	}
	return v, nil
}

// LoadConfigFile reads a YAML or JSON training configuration file.
func LoadConfigFile(path string) (domain.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Value{}, fmt.Errorf("read training configuration: %w", err)
	}
	return ParseConfigDocument(data)
}
