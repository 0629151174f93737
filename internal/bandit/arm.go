package bandit

import "math"

// Arm is a Beta(α, β) posterior over the normalized reward of one arm key.
// Alpha and Beta start at 1 (uniform prior) and only ever grow.
type Arm struct {
	Name        string
	Alpha       float64
	Beta        float64
	Pulls       int64
	TotalReward float64
}

func newArm(name string) *Arm {
	return &Arm{Name: name, Alpha: 1, Beta: 1}
}

// Mean returns α/(α+β).
func (a Arm) Mean() float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

// Variance returns the variance of the Beta posterior.
func (a Arm) Variance() float64 {
	s := a.Alpha + a.Beta
	return (a.Alpha * a.Beta) / (s * s * (s + 1))
}

// observe folds one reward into the posterior. The reward is normalized by
// maxReward into [0,1] so alpha and beta can never shrink.
func (a *Arm) observe(reward, maxReward float64) {
	n := Normalize(reward, maxReward)
	a.Alpha += n
	a.Beta += 1 - n
	if !math.IsNaN(reward) && !math.IsInf(reward, 0) {
		a.TotalReward += reward
	}
	a.Pulls++
}

// Normalize maps reward/maxReward into [0,1]; maxReward is floored at 0.01.
// A NaN reward or maxReward counts as a failure (0).
func Normalize(reward, maxReward float64) float64 {
	if !(maxReward >= 0.01) {
		maxReward = 0.01
	}
	n := reward / maxReward
	switch {
	case math.IsNaN(n) || n < 0:
		return 0
	case n > 1:
		return 1
	}
	return n
}

// validShape reports whether x can be used as a Beta shape parameter.
func validShape(x float64) bool {
	return x >= 1 && !math.IsInf(x, 0)
}
