package pgo

import "math"

// NormalizeAngle wraps an angle in radians to (-pi, pi].
func NormalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta <= -math.Pi {
		theta += 2 * math.Pi
	} else if theta > math.Pi {
		theta -= 2 * math.Pi
	}
	return theta
}

// Compose returns a ⊕ b: the pose b, given in the frame of a, expressed in
// the frame a is given in.
func Compose(a, b Pose2) Pose2 {
	cos, sin := math.Cos(a.Theta), math.Sin(a.Theta)
	return Pose2{
		X:     a.X + cos*b.X - sin*b.Y,
		Y:     a.Y + sin*b.X + cos*b.Y,
		Theta: NormalizeAngle(a.Theta + b.Theta),
	}
}

// Inverse returns the pose p⁻¹ such that Compose(p, p⁻¹) is the identity.
func Inverse(p Pose2) Pose2 {
	cos, sin := math.Cos(p.Theta), math.Sin(p.Theta)
	return Pose2{
		X:     -cos*p.X - sin*p.Y,
		Y:     sin*p.X - cos*p.Y,
		Theta: NormalizeAngle(-p.Theta),
	}
}

// Relative returns a⁻¹ ⊕ b, the pose of b in the frame of a.
func Relative(a, b Pose2) Pose2 {
	return Compose(Inverse(a), b)
}

// Mahalanobis returns the squared Mahalanobis norm of a residual pose under a
// diagonal covariance. Returns NaN when any sigma is non-positive.
func Mahalanobis(r Pose2, s Sigmas) float64 {
	if !s.Valid() {
		return math.NaN()
	}
	dx := r.X / s.X
	dy := r.Y / s.Y
	dt := NormalizeAngle(r.Theta) / s.Theta
	return dx*dx + dy*dy + dt*dt
}

// combineSigmas sums two diagonal covariances and returns the resulting sigmas.
func combineSigmas(a, b Sigmas) Sigmas {
	return Sigmas{
		X:     math.Sqrt(a.X*a.X + b.X*b.X),
		Y:     math.Sqrt(a.Y*a.Y + b.Y*b.Y),
		Theta: math.Sqrt(a.Theta*a.Theta + b.Theta*b.Theta),
	}
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// nanScore marks a score that could not be computed.
var nanScore = math.NaN()
