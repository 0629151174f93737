package domain

// Explanation es un factor de la traza de auditoría de una decisión.
// Multiplier es el factor aplicado (o el valor relevante si no es multiplicativo).
type Explanation struct {
	Factor     string  `json:"factor"`
	Multiplier float64 `json:"multiplier"`
}

// RiskAssessment es la evaluación adversarial (Tier 4) de una oportunidad.
type RiskAssessment struct {
	Score               float64  // 0-1, mayor = más riesgo
	Flags               []string // sybil_suspected, bot_suspected, low_intent, fraud_pattern_match
	RequireEscrow       bool
	RequireVerification bool
	Block               bool
}

// Recommendation es la decisión sintetizada para una oportunidad.
// Block=true es la única señal de parada dura; el resto es orientativo.
type Recommendation struct {
	OppID            string
	Proceed          bool
	TargetPrice      float64
	PriceRange       [2]float64 // [min, max]
	AllocatedAmount  float64
	KellyFraction    float64
	RequireEscrow    bool
	Block            bool
	Arm              string  // arm elegido por el bandit jerárquico
	ArmSample        float64 // valor muestreado del posterior
	ExperimentEngine string  // engine de tratamiento si entró en un experimento
	Engine           string  // engine que ejecutará la oportunidad
	Treatment        bool    // false = holdout de uplift para Engine
	RiskScore        float64
	Actions          []string
	Warnings         []string
	Explanation      []Explanation
}

// Recommendation actions.
const (
	ActionBlock         = "BLOCK"
	ActionRequireEscrow = "REQUIRE_ESCROW"
	ActionExperiment    = "EXPERIMENT"
	ActionAllocate      = "ALLOCATE"
)
