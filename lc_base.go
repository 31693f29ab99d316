package pipeline

import "github.com/fenrick/MiroDiagramming/internal"

// ErrDoubleStarted, ErrDoubleStopped, and ErrStopTimeout are the sentinel
// errors Worker.Start/Stop return; they are the same values retention.Worker
// returns; both embed the shared internal.LifecycleBase state machine.
var (
	ErrDoubleStarted = internal.ErrDoubleStarted
	ErrDoubleStopped = internal.ErrDoubleStopped
	ErrStopTimeout   = internal.ErrStopTimeout
)

// lcBase is the shared start/stop lifecycle mixin used by the long-running
// components of this package (currently Worker). It is the same type
// retention.Worker embeds.
type lcBase = internal.LifecycleBase
