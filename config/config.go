// Package config declares message types explicitly in YAML, for participants that
// cannot derive descriptors from Go types.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"gosuda.org/shmtype"
)

var (
	ErrMissingName      = errors.New("config: service without name")
	ErrMissingPayload   = errors.New("config: service without payload")
	ErrDuplicateService = errors.New("config: duplicate service")
	ErrUnknownService   = errors.New("config: unknown service")
)

type Config struct {
	Store    string    `yaml:"store,omitempty"` // Registry location, a directory or sqlite:PATH
	Services []Service `yaml:"services"`
}

type Service struct {
	Name       string `yaml:"name"`
	Header     *Type  `yaml:"header,omitempty"`      // Defaults to shmtype.Header
	UserHeader *Type  `yaml:"user_header,omitempty"` // Defaults to shmtype.NoUserHeader
	Payload    *Type  `yaml:"payload"`
}

// Type declares one region of a message
type Type struct {
	TypeName  string              `yaml:"type_name"`
	Variant   shmtype.TypeVariant `yaml:"variant,omitempty"`
	Size      uint64              `yaml:"size"`
	Alignment uint64              `yaml:"alignment"`
}

// Detail converts the declaration into a validated TypeDetail
func (t Type) Detail() (shmtype.TypeDetail, error) {
	return shmtype.NewTypeDetail(t.Variant, t.TypeName, t.Size, t.Alignment)
}

// Details builds the validated descriptor of the service
func (s *Service) Details() (shmtype.MessageTypeDetails, error) {
	if s.Payload == nil {
		return shmtype.MessageTypeDetails{}, fmt.Errorf("%w: %s", ErrMissingPayload, s.Name)
	}

	header := shmtype.HeaderTypeDetail()
	userHeader := shmtype.TypeDetailOf[shmtype.NoUserHeader](shmtype.FixedSize)
	var err error
	if s.Header != nil {
		if header, err = s.Header.Detail(); err != nil {
			return shmtype.MessageTypeDetails{}, fmt.Errorf("service %s: header: %w", s.Name, err)
		}
	}
	if s.UserHeader != nil {
		if userHeader, err = s.UserHeader.Detail(); err != nil {
			return shmtype.MessageTypeDetails{}, fmt.Errorf("service %s: user_header: %w", s.Name, err)
		}
	}
	payload, err := s.Payload.Detail()
	if err != nil {
		return shmtype.MessageTypeDetails{}, fmt.Errorf("service %s: payload: %w", s.Name, err)
	}

	d, err := shmtype.NewMessageTypeDetails(header, userHeader, payload)
	if err != nil {
		return shmtype.MessageTypeDetails{}, fmt.Errorf("service %s: %w", s.Name, err)
	}
	return d, nil
}

// Load reads and validates the configuration file at path
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML configuration. Unknown keys are rejected.
func Parse(buf []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	seen := make(map[string]bool, len(cfg.Services))
	for i := range cfg.Services {
		s := &cfg.Services[i]
		if s.Name == "" {
			return nil, fmt.Errorf("%w: services[%d]", ErrMissingName, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateService, s.Name)
		}
		seen[s.Name] = true

		if _, err := s.Details(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Lookup returns the service declared under name
func (c *Config) Lookup(name string) (*Service, error) {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
}
