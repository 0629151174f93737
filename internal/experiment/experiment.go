package experiment

import (
	"time"
)

// Status of an experiment. ACTIVE is the only non-terminal state.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusRolledBack Status = "ROLLED_BACK"
	StatusGraduated  Status = "GRADUATED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusRolledBack || s == StatusGraduated
}

// Experiment is a live A/B test of a treatment engine against a control.
type Experiment struct {
	ID               string
	Name             string
	TreatmentEngine  string
	ControlEngine    string
	TrafficPct       float64
	Status           Status
	TreatmentWins    int
	ControlWins      int
	TreatmentTrials  int
	ControlTrials    int
	TreatmentRevenue float64
	ControlRevenue   float64
	CreatedAt        time.Time
	Seq              int64 // creation order
}

// Significance is the result of a pooled two-proportion z-test.
type Significance struct {
	Significant   bool
	Reason        string // set when the test could not run
	N             int
	TreatmentRate float64
	ControlRate   float64
	Lift          float64
	ZScore        float64
}

// Reasons a significance check could not conclude.
const (
	ReasonInsufficientSamples = "insufficient_samples"
	ReasonNotFound            = "not_found"
)
