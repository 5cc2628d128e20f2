package app

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Settings prints the effective configuration with secrets redacted.
func (a *App) Settings() error {
	out, err := yaml.Marshal(a.Config.Redacted())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = a.Out.Write(out)
	return err
}
