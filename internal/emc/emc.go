// Package emc estimates the equilibrium moisture content of maize with the
// Guggenheim-Anderson-de Boer (GAB) sorption isotherm.
package emc

import (
	"fmt"
	"math"

	"github.com/afladry360/telemetry/internal/errors"
)

// Params are the GAB constants at one temperature.
type Params struct {
	Xm float64 // monolayer moisture content
	C  float64 // Guggenheim constant
	K  float64 // multilayer correction
}

type calibration struct {
	TempC float64
	Params
}

// Maize desorption constants (Talla et al. 2014), ascending by temperature.
var table = []calibration{
	{TempC: 30, Params: Params{Xm: 0.146, C: 12.649, K: 0.510}},
	{TempC: 40, Params: Params{Xm: 0.124, C: 12.357, K: 0.562}},
	{TempC: 50, Params: Params{Xm: 0.103, C: 12.172, K: 0.606}},
	{TempC: 60, Params: Params{Xm: 0.083, C: 13.651, K: 0.649}},
}

// Result is one EMC evaluation.
type Result struct {
	// MoistureContent is dry basis (kg water / kg dry matter).
	MoistureContent float64
	WaterActivity   float64
	TemperatureC    float64
	Params          Params
}

// ParamsAt returns the GAB constants for tempC. Temperatures outside the
// calibrated range use the nearest row unchanged.
func ParamsAt(tempC float64) Params {
	first, last := table[0], table[len(table)-1]
	if tempC <= first.TempC {
		return first.Params
	}
	if tempC >= last.TempC {
		return last.Params
	}
	for i := 0; i < len(table)-1; i++ {
		lo, hi := table[i], table[i+1]
		if tempC < lo.TempC || tempC > hi.TempC {
			continue
		}
		if tempC == lo.TempC {
			return lo.Params
		}
		if tempC == hi.TempC {
			return hi.Params
		}
		f := (tempC - lo.TempC) / (hi.TempC - lo.TempC)
		return Params{
			Xm: lerp(lo.Xm, hi.Xm, f),
			C:  lerp(lo.C, hi.C, f),
			K:  lerp(lo.K, hi.K, f),
		}
	}
	// unreachable with a sorted table
	return last.Params
}

func lerp(a, b, f float64) float64 { return a + (b-a)*f }

// Compute evaluates the GAB isotherm for relative humidity rh (percent) and
// temperature tempC (Celsius). It returns a computation error when the model
// is undefined for the inputs instead of an infinite or negative value.
func Compute(rh, tempC float64) (Result, error) {
	if math.IsNaN(rh) || math.IsInf(rh, 0) || math.IsNaN(tempC) || math.IsInf(tempC, 0) {
		return Result{}, errors.NewComputationError(
			fmt.Sprintf("non-finite input rh=%v temp=%v", rh, tempC), nil)
	}

	aw := rh / 100
	p := ParamsAt(tempC)
	res := Result{WaterActivity: aw, TemperatureC: tempC, Params: p}

	kaw := p.K * aw
	if kaw >= 1 {
		return res, errors.NewComputationError(
			fmt.Sprintf("K*aw=%.4f >= 1 at rh=%v temp=%v", kaw, rh, tempC), nil)
	}
	den := (1 - kaw) * (1 + (p.C-1)*kaw)
	if den <= 0 {
		return res, errors.NewComputationError(
			fmt.Sprintf("degenerate denominator %.6f at rh=%v temp=%v", den, rh, tempC), nil)
	}
	x := p.Xm * p.C * kaw / den
	if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return res, errors.NewComputationError(
			fmt.Sprintf("invalid moisture %v at rh=%v temp=%v", x, rh, tempC), nil)
	}
	res.MoistureContent = x
	return res, nil
}
