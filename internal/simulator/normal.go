package simulator

import "math"

// Abramowitz & Stegun 26.2.17 polynomial for the upper normal tail.
var asTailCoefficients = [5]float64{0.31938153, -0.356563782, 1.781477937, -1.821255978, 1.330274429}

const asTailP = 0.2316419

// Abramowitz & Stegun 26.2.23 rational seed for the inverse.
var (
	asSeedNumerator   = [3]float64{2.515517, 0.802853, 0.010328}
	asSeedDenominator = [3]float64{1.432788, 0.189269, 0.001308}
)

// newtonSteps refines the rational seed against the 26.2.17 tail until the
// quantile agrees with the polynomial to machine precision.
const newtonSteps = 3

// ZCritical returns the two-sided critical value for a confidence level in percent.
// The results agree with the exact quantiles to within 2e-5: 1.2816 at 80%,
// 1.6449 at 90%, 1.9600 at 95% and 2.5758 at 99%.
func ZCritical(confidenceLevel float64) float64 {
	alpha := 1 - confidenceLevel/100
	return InverseNormal(1 - alpha/2)
}

// InverseNormal returns x such that P(Z <= x) = p for a standard normal Z.
//
// t = sqrt(-2 ln(min(p, 1-p))) seeds the search, Newton steps solve the
// A&S 26.2.17 tail equation, and the sign is positive for p > 0.5.
func InverseNormal(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return math.NaN()
	case p <= 0:
		return math.Inf(-1)
	case p >= 1:
		return math.Inf(1)
	case p == 0.5:
		return 0
	}

	q := math.Min(p, 1-p)
	t := math.Sqrt(-2 * math.Log(q))

	c, d := asSeedNumerator, asSeedDenominator
	x := t - (c[0]+c[1]*t+c[2]*t*t)/(1+d[0]*t+d[1]*t*t+d[2]*t*t*t)

	for i := 0; i < newtonSteps; i++ {
		x += (upperTail(x) - q) / normalDensity(x)
	}

	if p > 0.5 {
		return x
	}
	return -x
}

// upperTail approximates P(Z > x)
func upperTail(x float64) float64 {
	if x < 0 {
		return 1 - upperTail(-x)
	}
	a := asTailCoefficients
	k := 1 / (1 + asTailP*x)
	poly := k * (a[0] + k*(a[1]+k*(a[2]+k*(a[3]+k*a[4]))))
	return normalDensity(x) * poly
}

func normalDensity(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
