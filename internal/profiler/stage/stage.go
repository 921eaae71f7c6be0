// Package stage implements the profiler stage state machine and the capture
// selection within a stage.
package stage

import (
	"fmt"

	"github.com/coral-mesh/coral-profiler/internal/profiler/capture"
)

// Kind identifies a stage.
type Kind int

const (
	// KindNull means no process is selected.
	KindNull Kind = iota
	// KindMonitor shows the selected process without an open capture.
	KindMonitor
	KindCPU
	KindMemory
	KindNetwork
	KindEnergy
)

var kindNames = map[Kind]string{
	KindNull:    "null",
	KindMonitor: "monitor",
	KindCPU:     "cpu",
	KindMemory:  "memory",
	KindNetwork: "network",
	KindEnergy:  "energy",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Profiler reports whether k is a profiler-specific stage that can hold a
// capture.
func (k Kind) Profiler() bool {
	switch k {
	case KindCPU, KindMemory, KindNetwork, KindEnergy:
		return true
	default:
		return false
	}
}

// ParseKind parses a stage name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown stage %q", s)
}

// Mode is the coarse layout of the active stage.
type Mode int

const (
	ModeNormal Mode = iota
	ModeExpanded
)

func (m Mode) String() string {
	if m == ModeExpanded {
		return "expanded"
	}
	return "normal"
}

// Stage is the current stage value. Only profiler stages carry a capture.
type Stage struct {
	Kind Kind

	// Capture is the selected capture, loaded or still loading.
	Capture capture.Object
	Loaded  bool

	Class    string
	Instance string
}

// mode derives the layout from the capture-scoped selections.
func (s Stage) mode() Mode {
	if s.Capture != nil || s.Class != "" || s.Instance != "" {
		return ModeExpanded
	}
	return ModeNormal
}

// Outcome classifies how a capture load ended.
type Outcome int

const (
	OutcomeLoaded Outcome = iota
	OutcomeFailed
	OutcomeCanceled
	OutcomeSuperseded
)

var outcomeNames = map[Outcome]string{
	OutcomeLoaded:     "loaded",
	OutcomeFailed:     "failed",
	OutcomeCanceled:   "canceled",
	OutcomeSuperseded: "superseded",
}

func (o Outcome) String() string {
	return outcomeNames[o]
}
