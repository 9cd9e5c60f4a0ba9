package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MarcinKonowalczyk/brief/bf"
	"gopkg.in/yaml.v3"
)

// LoadConfig decodes a YAML profile on top of config. Keys missing from the
// file keep their current value; unknown keys are an error.
func LoadConfig(path string, config *bf.Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse %s: %w", bf.ErrInvalidConfiguration, abs, err)
	}
	return config.Validate()
}
