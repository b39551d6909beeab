package ocrpool

// CapacityGuard decides whether the pool may start another worker given a
// fixed machine capacity and a 20% headroom reserved for the rest of the
// process (browser automation workers, the process's own runtime).
//
// Grounded on the teacher's provider_pool.go dispatcher, which gated worker
// startup on the provider's rate limit; here the gate is a CPU/RAM budget
// instead of a request budget.
type CapacityGuard struct {
	availableCPU float64 // logical cores
	availableRAM float64 // bytes
	perWorkerCPU float64
	perWorkerRAM float64
	headroom     float64 // fraction reserved, e.g. 0.2
}

// NewCapacityGuard returns a guard over availableCPU logical cores and
// availableRAM bytes, where each worker costs perWorkerCPU cores and
// perWorkerRAM bytes, reserving headroomFraction of raw capacity.
func NewCapacityGuard(availableCPU, availableRAM, perWorkerCPU, perWorkerRAM, headroomFraction float64) *CapacityGuard {
	return &CapacityGuard{
		availableCPU: availableCPU,
		availableRAM: availableRAM,
		perWorkerCPU: perWorkerCPU,
		perWorkerRAM: perWorkerRAM,
		headroom:     headroomFraction,
	}
}

// Allows reports whether workers additional workers may be started on top
// of the current running count.
func (g *CapacityGuard) Allows(currentWorkers, additional int) bool {
	usableCPU := g.availableCPU * (1 - g.headroom)
	usableRAM := g.availableRAM * (1 - g.headroom)

	total := currentWorkers + additional
	return float64(total)*g.perWorkerCPU <= usableCPU && float64(total)*g.perWorkerRAM <= usableRAM
}

// MaxWorkers returns the largest worker count the guard allows at all.
func (g *CapacityGuard) MaxWorkers() int {
	usableCPU := g.availableCPU * (1 - g.headroom)
	usableRAM := g.availableRAM * (1 - g.headroom)

	byCPU := int(usableCPU / g.perWorkerCPU)
	byRAM := int(usableRAM / g.perWorkerRAM)
	if byCPU < byRAM {
		return byCPU
	}
	return byRAM
}
