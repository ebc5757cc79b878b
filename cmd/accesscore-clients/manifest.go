package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/accesscore/pkg/auth"
	"gopkg.in/yaml.v3"
)

// Manifest lists the third-party applications to register
type Manifest struct {
	Clients []ClientSpec `yaml:"clients"`
}

// ClientSpec describes one client registration
type ClientSpec struct {
	Name         string   `yaml:"name"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Grants       []string `yaml:"grants"`
}

// registrar creates a client and returns it with its one-time secret
type registrar interface {
	RegisterClient(ctx context.Context, name string, redirectURIs []string, grants []auth.GrantType) (*auth.Client, string, error)
}

// LoadManifest loads and parses a client manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Validate checks every entry before anything is registered
func (m *Manifest) Validate() error {
	if len(m.Clients) == 0 {
		return fmt.Errorf("manifest has no clients")
	}
	for i, c := range m.Clients {
		if c.Name == "" {
			return fmt.Errorf("clients[%d]: name is required", i)
		}
		if len(c.Grants) == 0 {
			return fmt.Errorf("clients[%d] %q: at least one grant is required", i, c.Name)
		}
		for _, g := range c.Grants {
			switch auth.GrantType(g) {
			case auth.GrantAuthorizationCode, auth.GrantRefreshToken:
			default:
				return fmt.Errorf("clients[%d] %q: unsupported grant %q", i, c.Name, g)
			}
		}
	}
	return nil
}

// register creates every client in the manifest and writes the credentials to
// out. Secrets are printed once and never stored.
func register(ctx context.Context, r registrar, m *Manifest, out io.Writer) error {
	for _, spec := range m.Clients {
		grants := make([]auth.GrantType, len(spec.Grants))
		for i, g := range spec.Grants {
			grants[i] = auth.GrantType(g)
		}

		client, secret, err := r.RegisterClient(ctx, spec.Name, spec.RedirectURIs, grants)
		if err != nil {
			return fmt.Errorf("register %q: %w", spec.Name, err)
		}
		fmt.Fprintf(out, "%s\tclient_id=%s\tclient_secret=%s\n", spec.Name, client.ID, secret)
	}
	return nil
}
