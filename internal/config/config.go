package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type configKey struct{}

func With(ctx context.Context, o *Options) context.Context {
	return context.WithValue(ctx, configKey{}, o)
}

// Get returns options stored in ctx, defaults when there are none.
func Get(ctx context.Context) *Options {
	if o, ok := ctx.Value(configKey{}).(*Options); ok {
		return o
	}
	return Defaults()
}

// Load merges the yaml file at path into base. Fields missing from the file
// keep their base value. An empty path only validates base.
func Load(base *Options, path string) (*Options, error) {
	o := *base
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading configuration file %w", err)
		}
		if err := yaml.Unmarshal(b, &o); err != nil {
			return nil, fmt.Errorf("invalid configuration file %w", err)
		}
		if o.Data != "" && !filepath.IsAbs(o.Data) {
			o.Data = filepath.Join(filepath.Dir(path), filepath.Clean(o.Data))
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Options) Validate() error {
	switch {
	case o.Listen == "":
		return errors.New("config: listen address is required")
	case !o.InMemory && o.Data == "":
		return errors.New("config: data path is required unless running in memory")
	case o.Retention <= 0:
		return errors.New("config: retention must be positive")
	case o.SessionTimeout <= 0:
		return errors.New("config: session timeout must be positive")
	case o.Concurrency <= 0:
		return errors.New("config: concurrency must be positive")
	}
	return nil
}
