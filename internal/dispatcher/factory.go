package dispatcher

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/tinywideclouds/go-push-dispatch/internal/lifecycle"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// ProviderSpec describes how to build one provider for a unit of work.
type ProviderSpec struct {
	New    func() (dispatch.ProviderClient, error)
	Config ProviderConfig
}

// Factory builds a fresh Dispatcher per unit of work from validated specs.
type Factory struct {
	logger *slog.Logger
	specs  map[dispatch.Provider]ProviderSpec
}

func NewFactory(logger *slog.Logger, specs map[dispatch.Provider]ProviderSpec) *Factory {
	return &Factory{logger: logger, specs: specs}
}

// ForUnit returns a Dispatcher whose connections are released when unit ends.
func (f *Factory) ForUnit(unit lifecycle.Registrar) (*Dispatcher, error) {
	d := New(f.logger, unit)
	for tag, spec := range f.specs {
		client, err := spec.New()
		if err != nil {
			return nil, fmt.Errorf("failed to build %s client: %w", tag, err)
		}
		if err := d.Register(tag, client, spec.Config); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Providers lists the configured provider tags.
func (f *Factory) Providers() []dispatch.Provider {
	tags := make([]dispatch.Provider, 0, len(f.specs))
	for tag := range f.specs {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}
