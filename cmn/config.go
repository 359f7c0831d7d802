package cmn

import "sync/atomic"

// StateMapping selects one of the four state-mapper algorithms (spec.md §4.E).
type StateMapping string

const (
	MappingCoB     StateMapping = "cob"
	MappingCoW     StateMapping = "cow"
	MappingCoW2    StateMapping = "cow2"
	MappingSuper   StateMapping = "super"
	MappingSuperBC StateMapping = "super-bfc" // super + BFS clustering
	MappingSuperSC StateMapping = "super-sc"  // super + clustering; runenv builds it exactly like super-bfc
)

// DistributedTerminate selects the termination test-record policy (spec.md §7).
type DistributedTerminate string

const (
	TerminateSingle  DistributedTerminate = "single"
	TerminateUniform DistributedTerminate = "uniform"
	TerminateForceAll DistributedTerminate = "force-all"
)

// ConstraintsTransmission selects how many sender constraints are installed
// on the receiver (spec.md §4.D / §6.2).
type ConstraintsTransmission string

const (
	ConstraintsClosure   ConstraintsTransmission = "closure"
	ConstraintsForceAll  ConstraintsTransmission = "force-all"
)

// SchedulerKind selects a top-level searcher.
type SchedulerKind string

const (
	SchedulerLockStep        SchedulerKind = "lockstep"
	SchedulerCooja           SchedulerKind = "cooja"
	SchedulerLockStepCluster SchedulerKind = "lockstep-cluster"
	SchedulerCoojaCluster    SchedulerKind = "cooja-cluster"
)

// ClusterStrategy selects the cluster-wrapper's outer SearcherStrategy.
type ClusterStrategy string

const (
	StrategyNull   ClusterStrategy = "null"
	StrategyFIFO   ClusterStrategy = "fifo"
	StrategyRandom ClusterStrategy = "random"
)

// Config is the immutable, atomically-swapped snapshot of every CLI flag
// from spec.md §6.2. Modeled on the teacher's cmn.GCO ("Global Config
// Owner") pattern used throughout reb/resilver.go (`cmn.GCO.Get()`).
type Config struct {
	StateMapping            StateMapping
	PhonyPackets            bool
	DistributedTerminate    DistributedTerminate
	ConstraintsTransmission ConstraintsTransmission
	Scheduler               SchedulerKind
	LockstepIncrement       int
	ClusterInstructions     int
	ClusterStrategy         ClusterStrategy
	AddPacketSymbols        bool
}

// DefaultConfig mirrors spec.md §6.2's defaults.
func DefaultConfig() *Config {
	return &Config{
		StateMapping:            MappingSuper,
		PhonyPackets:            false,
		DistributedTerminate:    TerminateUniform,
		ConstraintsTransmission: ConstraintsClosure,
		Scheduler:               SchedulerCooja,
		LockstepIncrement:       1,
		ClusterInstructions:     10000,
		ClusterStrategy:         StrategyNull,
		AddPacketSymbols:        false,
	}
}

// gco is the global config owner: an atomically-swapped pointer to the
// current immutable Config, exactly as reb/resilver.go reads it via
// cmn.GCO.Get().
type globalConfigOwner struct {
	v atomic.Value
}

func (g *globalConfigOwner) Get() *Config {
	c, _ := g.v.Load().(*Config)
	if c == nil {
		return DefaultConfig()
	}
	return c
}

func (g *globalConfigOwner) Put(c *Config) { g.v.Store(c) }

// GCO is the process-wide configuration owner. It is populated once by the
// CLI at startup and read thereafter by every other package; it is a
// deliberate package-level variable, matching spec.md §9's
// "no module-level singletons survive past program end" by virtue of being
// rebuilt wholesale on every `Run` rather than mutated in place.
var GCO = &globalConfigOwner{}

func init() { GCO.Put(DefaultConfig()) }
