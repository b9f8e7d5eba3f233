package endpoint

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-relay/webhook/signature"
	"gopkg.in/yaml.v3"
)

/* Loader reads a seed file describing users and their endpoints
 * Used by cmd/seed and cmd/validate-endpoints
 */

// SeedFile represents the structure of endpoints.yaml
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one user and the endpoints it owns
type SeedUser struct {
	Email     string         `yaml:"email"`
	APIKey    string         `yaml:"api_key"` // optional, generated when empty
	Endpoints []SeedEndpoint `yaml:"endpoints"`
}

// SeedEndpoint represents a single endpoint in the YAML file
type SeedEndpoint struct {
	Name           string `yaml:"name"`
	DestinationURL string `yaml:"destination_url"`
	Secret         string `yaml:"secret"`
	Active         *bool  `yaml:"active"` // default true
}

// IsActive applies the default for a missing active flag
func (s SeedEndpoint) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Load reads and validates a seed file
func Load(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("reading seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates seed YAML
func Parse(data []byte) (SeedFile, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return SeedFile{}, fmt.Errorf("parsing seed YAML: %w", err)
	}
	if err := file.Validate(); err != nil {
		return SeedFile{}, fmt.Errorf("validating seed file: %w", err)
	}
	return file, nil
}

// Validate checks every user and endpoint entry
func (f SeedFile) Validate() error {
	emails := make(map[string]bool)
	for i, u := range f.Users {
		if u.Email == "" {
			return fmt.Errorf("user %d: email cannot be empty", i+1)
		}
		if emails[u.Email] {
			return fmt.Errorf("user %s: duplicate email", u.Email)
		}
		emails[u.Email] = true

		for j, e := range u.Endpoints {
			ep := Endpoint{Name: e.Name, DestinationURL: e.DestinationURL}
			if err := ep.Validate(); err != nil {
				return fmt.Errorf("user %s endpoint %d: %w", u.Email, j+1, err)
			}
			if strings.HasPrefix(e.Secret, signature.SecretPrefix) {
				if _, err := signature.ParseSecret(e.Secret); err != nil {
					return fmt.Errorf("user %s endpoint %s: invalid secret: %w", u.Email, e.Name, err)
				}
			}
		}
	}
	return nil
}
