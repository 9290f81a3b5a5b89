package ingest

import (
	"github.com/rotisserie/eris"
)

// Registry maps (system, table) pairs to their Source implementations.
type Registry struct {
	sources map[string]Source
	order   []string // registration order for deterministic iteration
}

// NewRegistry creates a registry populated with every known source.
func NewRegistry() *Registry {
	r := &Registry{sources: make(map[string]Source)}

	// Clinic historical reports: three projections of the same visits.
	r.Register(&ClinicAppointments{})
	r.Register(&ClinicCats{})
	r.Register(&ClinicOwners{})

	// Clinic upcoming-appointment snapshots.
	r.Register(&UpcomingAppointments{})

	// Tracker request export.
	r.Register(&TrackerRequests{})

	// Field-map placemark export.
	r.Register(&FieldmapPlacemarks{})

	return r
}

func sourceKey(system, table string) string {
	return system + "/" + table
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) {
	key := sourceKey(s.System(), s.Table())
	r.sources[key] = s
	r.order = append(r.order, key)
}

// Get returns the source for a (system, table) pair.
func (r *Registry) Get(system, table string) (Source, error) {
	s, ok := r.sources[sourceKey(system, table)]
	if !ok {
		return nil, eris.Errorf("ingest: unknown source %s/%s", system, table)
	}
	return s, nil
}

// All returns every source in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.sources[key])
	}
	return out
}

// Names returns the registered (system, table) keys in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
