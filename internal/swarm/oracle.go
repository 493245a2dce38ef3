// Package swarm runs pools of background workers that execute pending
// requests against a shared store.
//
// Workers are plain goroutines, but each one carries its own portal
// registry and opens its own portal over the store path. Coordination
// happens exclusively through the durable store: idempotent result
// slots make concurrent and repeated executions of the same call
// harmless.
package swarm

import "runtime"

// Oracle reports the machine capacity still available for background
// work. Pool sizing consults it so a swarm never starves the
// foreground workload.
type Oracle interface {
	// UnusedRAMMB returns the estimated free memory in megabytes.
	UnusedRAMMB() float64
	// UnusedCPUCores returns the estimated number of idle cores.
	UnusedCPUCores() float64
	// UnusedAccelerators returns the number of idle accelerator devices.
	UnusedAccelerators() float64
}

// StaticOracle reports fixed capacity numbers. Used in tests and on
// hosts where capacity is provisioned rather than measured.
type StaticOracle struct {
	RAMMB        float64
	CPUCores     float64
	Accelerators float64
}

func (o StaticOracle) UnusedRAMMB() float64        { return o.RAMMB }
func (o StaticOracle) UnusedCPUCores() float64     { return o.CPUCores }
func (o StaticOracle) UnusedAccelerators() float64 { return o.Accelerators }

// HostOracle estimates capacity from the Go runtime: all cores are
// considered available and memory is assumed plentiful. It deliberately
// errs on the generous side; set explicit limits in the pool config to
// rein a swarm in.
type HostOracle struct{}

func (HostOracle) UnusedRAMMB() float64        { return 16 * 1024 }
func (HostOracle) UnusedCPUCores() float64     { return float64(runtime.NumCPU()) }
func (HostOracle) UnusedAccelerators() float64 { return 0 }
