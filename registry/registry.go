// Package registry commits message type descriptors under service names.
//
// The first participant to create a service publishes its descriptor; the record is
// immutable from then on. Every later participant decodes the committed descriptor and
// must be compatible with it before it may exchange messages.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gosuda.org/shmtype"
)

var (
	ErrServiceExists       = errors.New("registry: service already exists")
	ErrServiceNotFound     = errors.New("registry: service not found")
	ErrIncompatibleService = errors.New("registry: incompatible service")
	ErrInvalidServiceName  = errors.New("registry: invalid service name")
)

// MaxServiceNameLength is the longest accepted service name in bytes
const MaxServiceNameLength = 255

// Service is a handle on a committed service
type Service struct {
	Name    string
	Details shmtype.MessageTypeDetails // The committed descriptor, used for all offsets
	Creator bool                       // Whether this participant committed the descriptor
}

// Registry runs the create-or-check protocol on top of a Store
type Registry struct {
	store Store
}

// New creates a registry backed by store
func New(store Store) *Registry {
	return &Registry{store: store}
}

// ValidateServiceName checks that name can be used as a store key
func ValidateServiceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidServiceName)
	case len(name) > MaxServiceNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidServiceName, MaxServiceNameLength)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator or NUL", ErrInvalidServiceName, name)
	}
	return nil
}

// Create commits local under name; it fails with ErrServiceExists if the name is taken
func (r *Registry) Create(ctx context.Context, name string, local shmtype.MessageTypeDetails) (*Service, error) {
	record, err := r.encode(name, local)
	if err != nil {
		return nil, err
	}

	_, created, err := r.store.CreateIfAbsent(ctx, name, record)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrServiceExists, name)
	}

	Logger().Info("service created", zap.String("service", name), zap.Object("details", local))
	return &Service{Name: name, Details: local, Creator: true}, nil
}

// Open attaches to an existing service if local is compatible with its committed descriptor
func (r *Registry) Open(ctx context.Context, name string, local shmtype.MessageTypeDetails) (*Service, error) {
	if _, err := r.encode(name, local); err != nil {
		return nil, err
	}

	committed, err := r.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.attach(name, local, committed)
}

// OpenOrCreate opens name, creating it with local when it does not exist yet.
// Of several concurrent callers exactly one becomes the creator.
func (r *Registry) OpenOrCreate(ctx context.Context, name string, local shmtype.MessageTypeDetails) (*Service, error) {
	record, err := r.encode(name, local)
	if err != nil {
		return nil, err
	}

	committed, created, err := r.store.CreateIfAbsent(ctx, name, record)
	if err != nil {
		return nil, err
	}
	if created {
		Logger().Info("service created", zap.String("service", name), zap.Object("details", local))
		return &Service{Name: name, Details: local, Creator: true}, nil
	}
	return r.attach(name, local, committed)
}

// Remove deletes the committed record of name
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := ValidateServiceName(name); err != nil {
		return err
	}
	if err := r.store.Remove(ctx, name); err != nil {
		return err
	}
	Logger().Info("service removed", zap.String("service", name))
	return nil
}

func (r *Registry) encode(name string, local shmtype.MessageTypeDetails) ([]byte, error) {
	if err := ValidateServiceName(name); err != nil {
		return nil, err
	}
	return local.MarshalBinary()
}

func (r *Registry) attach(name string, local shmtype.MessageTypeDetails, record []byte) (*Service, error) {
	committed, err := shmtype.ParseMessageTypeDetails(record)
	if err != nil {
		return nil, fmt.Errorf("registry: service %s: %w", name, err)
	}

	if err := local.CheckCompatibleTo(committed); err != nil {
		var incompatible *shmtype.IncompatibleError
		if errors.As(err, &incompatible) {
			Logger().Warn("incompatible service",
				zap.String("service", name),
				zap.Objects("mismatches", incompatible.Mismatches),
			)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrIncompatibleService, name, err)
	}

	Logger().Debug("service opened", zap.String("service", name), zap.Object("details", committed))
	return &Service{Name: name, Details: committed}, nil
}
