package archi

import "github.com/spider2/runtime/internal/expr"

// Scenario attaches parameter-dependent timing expressions to PEs, for
// kernels whose execution time scales with a graph parameter (e.g. a
// per-sample cost multiplied by a buffer-size parameter) rather than
// being a flat constant.
//
// Grounded on original_source/libspider/scenario/Scenario.cpp, which
// separates the platform topology (archi.Platform here) from the
// per-application timing scenario: the same platform can be reused across
// scenarios that size kernels differently.
type Scenario struct {
	platform *Platform
	// exprs[peID][kernelIndex] is the timing expression overriding
	// whatever constant was set via PE.SetTiming.
	exprs map[int]map[int]expr.Expr
}

// NewScenario creates a timing scenario over platform.
func NewScenario(platform *Platform) *Scenario {
	return &Scenario{platform: platform, exprs: make(map[int]map[int]expr.Expr)}
}

// SetTimingExpr declares that one firing of kernelIndex on peID takes a
// number of Time units given by evaluating e against the firing's
// resolved parameter table.
func (s *Scenario) SetTimingExpr(peID, kernelIndex int, e expr.Expr) {
	if s.exprs[peID] == nil {
		s.exprs[peID] = make(map[int]expr.Expr)
	}
	s.exprs[peID][kernelIndex] = e
}

// Resolve evaluates every timing expression in the scenario against
// params and writes the results into the underlying platform's PEs as
// constant timings, ready for the scheduler to consult.
func (s *Scenario) Resolve(params []int64) error {
	for peID, byKernel := range s.exprs {
		pe := s.platform.PEs[peID]
		for kernelIndex, e := range byKernel {
			v, err := expr.Eval(e, params)
			if err != nil {
				return err
			}
			if v < 0 {
				pe.SetTiming(kernelIndex, Unmappable)
				continue
			}
			pe.SetTiming(kernelIndex, uint64(v))
		}
	}
	return nil
}
