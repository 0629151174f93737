package bandit

import (
	"fmt"
	"math"
)

// ArmState is the serializable form of one arm, used to snapshot and restore
// posteriors across processes.
type ArmState struct {
	Level       string  `msgpack:"level" json:"level"`
	Key         string  `msgpack:"key" json:"key"`
	Alpha       float64 `msgpack:"alpha" json:"alpha"`
	Beta        float64 `msgpack:"beta" json:"beta"`
	Pulls       int64   `msgpack:"pulls" json:"pulls"`
	TotalReward float64 `msgpack:"total_reward" json:"total_reward"`
}

// Export returns every arm of every level.
func (h *Hierarchy) Export() []ArmState {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ArmState
	for _, lvl := range h.levels {
		lvl.arms.each(func(k string, a *Arm) {
			out = append(out, ArmState{
				Level:       lvl.Name,
				Key:         k,
				Alpha:       a.Alpha,
				Beta:        a.Beta,
				Pulls:       a.Pulls,
				TotalReward: a.TotalReward,
			})
		})
	}
	return out
}

// Import restores arms from a snapshot, overwriting arms with the same key.
// Shape parameters below 1 or non-finite are reset to the uniform prior.
func (h *Hierarchy) Import(states []ArmState) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	byName := make(map[string]*Level, len(h.levels))
	for _, lvl := range h.levels {
		byName[lvl.Name] = lvl
	}
	for _, s := range states {
		lvl, ok := byName[s.Level]
		if !ok {
			return fmt.Errorf("bandit.Import: unknown level %q for key %q", s.Level, s.Key)
		}
		a := newArm(s.Key)
		if validShape(s.Alpha) {
			a.Alpha = s.Alpha
		}
		if validShape(s.Beta) {
			a.Beta = s.Beta
		}
		a.Pulls = s.Pulls
		if !math.IsNaN(s.TotalReward) && !math.IsInf(s.TotalReward, 0) {
			a.TotalReward = s.TotalReward
		}
		lvl.arms.put(s.Key, a)
	}
	return nil
}
