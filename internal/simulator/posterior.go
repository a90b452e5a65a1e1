package simulator

import (
	"fmt"
	"math"

	"trialsim/domain/core"
	"trialsim/domain/trial"

	"gonum.org/v1/gonum/stat/distuv"
)

// StandardError is the two-sample proportion standard error, no continuity correction
func StandardError(pTreatment, pControl float64, n int) (float64, error) {
	if n <= 0 {
		return 0, core.ErrZeroSampleSize
	}
	nf := float64(n)
	se := math.Sqrt(pTreatment*(1-pTreatment)/nf + pControl*(1-pControl)/nf)
	if math.IsNaN(se) || math.IsInf(se, 0) {
		return 0, fmt.Errorf("%w: standard error %v", core.ErrNonFiniteOutcome, se)
	}
	return se, nil
}

// EfficacyFires reports whether the treatment's posterior mean exceeds the
// control's by more than z standard errors. The comparison is strict.
func EfficacyFires(pTreatment, pControl float64, n int, z float64) (bool, error) {
	se, err := StandardError(pTreatment, pControl, n)
	if err != nil {
		return false, err
	}
	return pTreatment-pControl > z*se, nil
}

// FutilityFires reports whether a treatment falls short of control plus the
// margin. The comparison is strict, so a tie keeps the arm.
func FutilityFires(pTreatment, pControl, threshold float64) bool {
	return pTreatment < pControl+threshold
}

// wilsonZ is the 95% two-sided normal quantile used for Monte Carlo intervals.
var wilsonZ = distuv.UnitNormal.Quantile(0.975)

// WilsonInterval is the 95% Wilson score interval of k successes in n runs, in percent
func WilsonInterval(k, n int) trial.Interval {
	if n <= 0 {
		return trial.Interval{}
	}
	nf := float64(n)
	phat := float64(k) / nf
	z2 := wilsonZ * wilsonZ

	denom := 1 + z2/nf
	center := (phat + z2/(2*nf)) / denom
	half := wilsonZ * math.Sqrt(phat*(1-phat)/nf+z2/(4*nf*nf)) / denom

	out := trial.Interval{
		Lower: 100 * math.Max(0, center-half),
		Upper: 100 * math.Min(1, center+half),
	}
	if k <= 0 {
		out.Lower = 0
	}
	if k >= n {
		out.Upper = 100
	}
	return out
}
