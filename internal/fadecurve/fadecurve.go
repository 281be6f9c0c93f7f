// Package fadecurve maps normalised fade position to gain for the curve
// family supported by passage fade-in/fade-out points (§4.5).
package fadecurve

import "math"

// Curve identifies one member of the supported fade-curve family.
type Curve int

const (
	Linear Curve = iota
	Exponential
	Logarithmic
	Cosine
	EqualPower
)

// String returns the curve's canonical name, used both for logging and for
// marshalling passage timing points over the command surface.
func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Logarithmic:
		return "logarithmic"
	case Cosine:
		return "cosine"
	case EqualPower:
		return "equal_power"
	default:
		return "unknown"
	}
}

// Parse looks up a curve by its canonical name. Unknown names fall back to
// Linear — an unrecognised fade curve degrades to the simplest safe
// behaviour rather than failing the passage.
func Parse(name string) Curve {
	switch name {
	case "exponential":
		return Exponential
	case "logarithmic":
		return Logarithmic
	case "cosine", "s_curve", "s-curve":
		return Cosine
	case "equal_power", "equalpower":
		return EqualPower
	default:
		return Linear
	}
}

// Gain returns the curve's gain at normalised position t, where t is
// clamped to [0, 1] before evaluation. Gain(0) == 0 and Gain(1) == 1 for
// every curve in the family.
//
// Fade-in application multiplies the signal by Gain(t) directly. Fade-out
// application multiplies by FadeOutGain(t) = 1-Gain(t) (§4.5, §4.6). The
// Logarithmic curve is defined as 1-(1-t)² specifically so that its
// fade-out complement reduces to (1-t)² — the "fast start, slow finish"
// shape §4.5's formula table lists for Logarithmic — while Exponential's
// t² is used directly by fade-ins for the "slow start, fast finish" shape
// the same table lists for it.
func Gain(c Curve, t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	switch c {
	case Exponential:
		return t * t
	case Logarithmic:
		inv := 1 - t
		return 1 - inv*inv
	case Cosine:
		return 0.5 * (1 - math.Cos(math.Pi*t))
	case EqualPower:
		return math.Sin(math.Pi * t / 2)
	default: // Linear
		return t
	}
}

// FadeOutGain returns 1-Gain(t), the complement used when a curve is applied
// to a fade-out (§4.5: "For fade-outs, apply 1 − curve(t) with the
// symmetric curve chosen at the passage").
func FadeOutGain(c Curve, t float64) float64 {
	return 1 - Gain(c, t)
}
