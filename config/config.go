package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/revcore/internal/adapters/riskguard"
	"github.com/alejandrodnm/revcore/internal/adapters/statecache"
	"github.com/alejandrodnm/revcore/internal/adapters/synthetic"
	"github.com/alejandrodnm/revcore/internal/application/runner"
	"github.com/alejandrodnm/revcore/internal/attention"
	"github.com/alejandrodnm/revcore/internal/attribution"
	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/experiment"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/orchestrator"
	"github.com/alejandrodnm/revcore/internal/pricing"
	"github.com/alejandrodnm/revcore/internal/uplift"
)

// Config es la configuración completa de revcore. Cada sección es el struct
// de configuración del componente correspondiente; el core nunca lee el
// entorno por su cuenta.
type Config struct {
	Bandit       bandit.Config       `yaml:"bandit"`
	Attention    attention.Config    `yaml:"attention"`
	Capital      capital.Config      `yaml:"capital"`
	Pricing      pricing.Config      `yaml:"pricing"`
	Attribution  attribution.Config  `yaml:"attribution"`
	Uplift       uplift.Config       `yaml:"uplift"`
	Experiments  ExperimentsConfig   `yaml:"experiments"`
	KPI          kpi.Config          `yaml:"kpi"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	RiskGuard    RiskGuardConfig     `yaml:"risk_guard"`
	Runner       runner.Config       `yaml:"runner"`
	Simulation   synthetic.Config    `yaml:"simulation"`
	Storage      StorageConfig       `yaml:"storage"`
	Redis        RedisConfig         `yaml:"redis"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Schedule     ScheduleConfig      `yaml:"schedule"`
	Log          LogConfig           `yaml:"log"`
}

// ExperimentsConfig añade al pool los experimentos que se crean al arrancar.
type ExperimentsConfig struct {
	experiment.Config `yaml:",inline"`
	Seed              []SeedExperiment `yaml:"seed"`
}

// SeedExperiment describe un experimento a crear al arrancar.
type SeedExperiment struct {
	Name       string  `yaml:"name"`
	Treatment  string  `yaml:"treatment"`
	Control    string  `yaml:"control"`
	TrafficPct float64 `yaml:"traffic_pct"`
}

// RiskGuardConfig controla el scorer adversarial y su wrapper de resiliencia.
type RiskGuardConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Guard   riskguard.Config        `yaml:"guard"`
	Breaker riskguard.GuardedConfig `yaml:"breaker"`
}

// StorageConfig controla dónde se persisten los snapshots.
type StorageConfig struct {
	DSN           string `yaml:"dsn"` // ruta al archivo SQLite, ":memory:" o vacío para desactivar
	RetentionDays int    `yaml:"retention_days"`
}

// Retention devuelve la retención como time.Duration.
func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// RedisConfig activa la publicación de posteriors en Redis.
type RedisConfig struct {
	statecache.Config `yaml:",inline"`
	Enabled           bool `yaml:"enabled"`
}

// MetricsConfig controla el volcado de métricas Prometheus.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // vacío = no volcar
}

// ScheduleConfig contiene las expresiones cron del loop de snapshots.
type ScheduleConfig struct {
	Snapshot string `yaml:"snapshot"` // KPI snapshot + posteriors
	Prune    string `yaml:"prune"`
	SLOProbe string `yaml:"slo_probe"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
// Un path vacío arranca de la configuración por defecto.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("REVCORE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("RUNWAY_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RUNWAY_DAYS %q: %w", v, err)
		}
		cfg.Capital.RunwayDays = days
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los defaults algorítmicos viven en cada componente; aquí solo los del binario.
func setDefaults(cfg *Config) {
	if cfg.Capital.RunwayDays <= 0 {
		cfg.Capital.RunwayDays = 60
	}
	if cfg.Capital.MonthlyBurnRate <= 0 {
		cfg.Capital.MonthlyBurnRate = 5000
	}
	if cfg.Storage.RetentionDays <= 0 {
		cfg.Storage.RetentionDays = 30
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Schedule.Snapshot == "" {
		cfg.Schedule.Snapshot = "@every 1m"
	}
	if cfg.Schedule.Prune == "" {
		cfg.Schedule.Prune = "@daily"
	}
	if cfg.Schedule.SLOProbe == "" {
		cfg.Schedule.SLOProbe = "@every 30s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
