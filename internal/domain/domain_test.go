package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpportunity_ExpectedValue(t *testing.T) {
	assert.Equal(t, 120.0, Opportunity{Value: 500, EV: 120}.ExpectedValue())
	assert.Equal(t, 500.0, Opportunity{Value: 500}.ExpectedValue())
}

func TestNewContext_Normalizes(t *testing.T) {
	c := NewContext(" SMB ", "", "Web")
	assert.Equal(t, Context{Segment: "smb", Platform: "unknown", SKU: "web"}, c)
	assert.Equal(t, "smb:unknown:web", c.Key())
	assert.Equal(t, c, Opportunity{Segment: "smb", SKU: "WEB"}.Context())
}

func TestOutcome_Coalition(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Outcome{Engine: "a", EnginesUsed: []string{"a", "b"}}.Coalition())
	assert.Equal(t, []string{"a"}, Outcome{Engine: "a"}.Coalition())
}

func TestKPISnapshot_Metric(t *testing.T) {
	s := KPISnapshot{CashPerToken: 2.5, PaybackDaysMedian: 9}

	v, ok := s.Metric("cash_per_token")
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	v, ok = s.Metric("payback_days_median")
	assert.True(t, ok)
	assert.Equal(t, 9.0, v)

	_, ok = s.Metric("nope")
	assert.False(t, ok)
}

func TestMathHelpers(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(3, 0, 1))
	assert.Equal(t, 0.0, Clamp(-2, 0, 1))
	assert.Equal(t, 1.23, Round2(1.2349))
}
