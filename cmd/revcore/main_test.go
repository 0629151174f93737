package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/revcore/config"
	"github.com/alejandrodnm/revcore/internal/application/runner"
	"github.com/alejandrodnm/revcore/internal/attention"
	"github.com/alejandrodnm/revcore/internal/domain"
)

func TestSetupLogger_Level(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, setupLogger(config.LogConfig{Level: "DEBUG"}).GetLevel())
	assert.Equal(t, zerolog.WarnLevel, setupLogger(config.LogConfig{Level: "warn", Format: "json"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, setupLogger(config.LogConfig{Level: "chatty"}).GetLevel())
}

func TestAccumulatePlatforms(t *testing.T) {
	acc := map[string]attention.PlatformKPI{}
	accumulatePlatforms(acc, runner.CycleResult{
		Opportunities: []domain.Opportunity{
			{ID: "a", Platform: "upwork"},
			{ID: "b", Platform: "upwork"},
			{ID: "c", Platform: "linkedin"},
		},
		Recommendations: []domain.Recommendation{
			{OppID: "a", Proceed: true},
			{OppID: "b", Block: true},
			{OppID: "c", Proceed: true},
		},
		Outcomes: []domain.Outcome{
			{OppID: "a", Success: true, Revenue: 300, Spend: 15},
			{OppID: "c", Spend: 4},
		},
	})

	assert.Equal(t, attention.PlatformKPI{Impressions: 2, Clicks: 1, Conversions: 1, Revenue: 300, Spend: 15}, acc["upwork"])
	assert.Equal(t, attention.PlatformKPI{Impressions: 1, Clicks: 1, Spend: 4}, acc["linkedin"])
}
