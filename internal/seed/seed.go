// Package seed pre-registers remote servers from a YAML file.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/service/server"
	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

// Config is the top-level structure of a seed file.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig describes one OpenTOSCA container or Winery instance.
type ServerConfig struct {
	Kind    string `yaml:"kind"`    // opentosca or winery
	Name    string `yaml:"name"`
	Address string `yaml:"address"` // absolute http(s) URL
}

// Registry is the part of the server service a seed run needs.
type Registry interface {
	List(ctx context.Context, kind domain.ServerKind) ([]domain.RemoteServer, error)
	Create(ctx context.Context, input server.CreateInput) (*domain.RemoteServer, error)
}

// Result counts what Apply did.
type Result struct {
	Created int
	Skipped int
}

// Load reads and parses a seed file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML content into a Config.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures every entry can be registered.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers defined in seed file")
	}
	seen := make(map[string]int, len(c.Servers))
	for i, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("server #%d missing name", i)
		}
		if !domain.ServerKind(s.Kind).Valid() {
			return fmt.Errorf("server %s has unknown kind %q", s.Name, s.Kind)
		}
		if _, err := (opentosca.Server{Address: s.Address}).BaseURL(); err != nil {
			return fmt.Errorf("server %s: %w", s.Name, err)
		}
		key := s.key()
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("server #%d duplicates server #%d (%s)", i, prev, s.Address)
		}
		seen[key] = i
	}
	return nil
}

func (s ServerConfig) key() string {
	return s.Kind + "|" + strings.TrimRight(strings.TrimSpace(s.Address), "/")
}

// Apply registers every configured server that is not already known by kind and address.
// Running it twice is a no-op.
func Apply(ctx context.Context, cfg *Config, registry Registry, ownerID int64, logger *slog.Logger) (Result, error) {
	var res Result
	known := make(map[string]bool)
	for _, kind := range []domain.ServerKind{domain.ServerKindOpenTOSCA, domain.ServerKindWinery} {
		existing, err := registry.List(ctx, kind)
		if err != nil {
			return res, fmt.Errorf("list %s servers: %w", kind, err)
		}
		for _, srv := range existing {
			known[ServerConfig{Kind: string(srv.Kind), Address: srv.Address}.key()] = true
		}
	}

	for _, s := range cfg.Servers {
		if known[s.key()] {
			res.Skipped++
			logger.Debug("seed server already registered", "kind", s.Kind, "address", s.Address)
			continue
		}
		srv, err := registry.Create(ctx, server.CreateInput{
			Kind:    domain.ServerKind(s.Kind),
			UserID:  ownerID,
			Name:    s.Name,
			Address: s.Address,
		})
		if err != nil {
			return res, fmt.Errorf("register %s: %w", s.Name, err)
		}
		known[s.key()] = true
		res.Created++
		logger.Info("seed server registered", "server_id", srv.ID, "kind", srv.Kind, "name", srv.Name)
	}
	return res, nil
}
