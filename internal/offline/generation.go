package offline

import (
	"github.com/hyperjump/nestelia/internal/classify"
	"github.com/hyperjump/nestelia/internal/config"
)

// Generation is one versioned set of the four cache partitions.
type Generation struct {
	Prefix  string
	Version string
}

// Names returns the generation's partition names indexed by classify.Partition.
func (g Generation) Names() [4]string {
	cfg := config.CacheConfig{Prefix: g.Prefix, Version: g.Version}
	return cfg.PartitionNames()
}

// Name returns the partition name for kind.
func (g Generation) Name(kind classify.Partition) string {
	return g.Names()[kind]
}

// Owns reports whether name is one of the generation's partitions.
func (g Generation) Owns(name string) bool {
	for _, n := range g.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// State describes the registration as seen by callers.
type State string

const (
	StateUncontrolled State = "uncontrolled"
	StateActive       State = "active"
	StateWaiting      State = "waiting"
)

// Registration is a snapshot of the lifecycle, handed to hooks and the status endpoint.
type Registration struct {
	Active  string `json:"active,omitempty"`
	Waiting string `json:"waiting,omitempty"`
	State   State  `json:"state"`
}
