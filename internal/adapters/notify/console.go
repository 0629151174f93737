package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/kpi"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyRecommendations imprime las recomendaciones en el modo configurado.
func (c *Console) NotifyRecommendations(_ context.Context, recs []domain.Recommendation) error {
	if len(recs) == 0 {
		fmt.Fprintf(c.out, "[%s] no recommendations\n", c.stamp())
		return nil
	}
	if c.table {
		c.printRecommendationTable(recs)
	} else {
		c.printCompact(recs)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(recs []domain.Recommendation) {
	proceed, escrow, blocked := countDecisions(recs)
	var allocated float64
	for _, r := range recs {
		allocated += r.AllocatedAmount
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d opps → go:%d escrow:%d block:%d alloc:$%.2f",
		c.stamp(), len(recs), proceed, escrow, blocked, allocated)

	shown := 0
	for _, r := range recs {
		if shown >= 4 {
			break
		}
		if r.Block {
			continue
		}
		fmt.Fprintf(&sb, " | %s $%.0f %s k%.3f", compactName(r.OppID, 12), r.TargetPrice, r.Arm, r.KellyFraction)
		shown++
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printRecommendationTable(recs []domain.Recommendation) {
	proceed, escrow, blocked := countDecisions(recs)
	fmt.Fprintf(c.out, "\n[%s] %d recommendations: go:%d escrow:%d block:%d\n",
		c.stamp(), len(recs), proceed, escrow, blocked)

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Opp", "Decision", "Target", "Range", "Alloc", "Kelly", "Arm", "Exp", "Risk")
	for i, r := range recs {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(r.OppID, 24),
			decision(r),
			fmt.Sprintf("$%.2f", r.TargetPrice),
			fmt.Sprintf("$%.0f-$%.0f", r.PriceRange[0], r.PriceRange[1]),
			fmt.Sprintf("$%.2f", r.AllocatedAmount),
			fmt.Sprintf("%.3f", r.KellyFraction),
			r.Arm,
			r.ExperimentEngine,
			fmt.Sprintf("%.2f", r.RiskScore),
		)
	}
	table.Render()

	for _, r := range recs {
		for _, w := range r.Warnings {
			fmt.Fprintf(c.out, "  ⚠ %s: %s\n", r.OppID, w)
		}
	}
}

// NotifyKPIs imprime el rollup de KPIs.
func (c *Console) NotifyKPIs(_ context.Context, r kpi.Report) error {
	fmt.Fprintf(c.out, "\n=== KPIs (%d outcomes) ===\n", r.TotalOutcomes)
	fmt.Fprintf(c.out, "  Revenue: $%.2f   Spend: $%.2f   CAC:LTV %.4f\n", r.TotalRevenue, r.TotalSpend, r.CACLTVRatio)
	fmt.Fprintf(c.out, "  Cash/token: %.4f   Payback median: %dd\n", r.CashPerToken, r.PaybackDaysMedian)
	fmt.Fprintf(c.out, "  Win %.1f%%   Refund %.1f%%   Assured %.1f%%\n",
		r.WinRate*100, r.RefundRate*100, r.AssuredShare*100)

	if len(r.TopEngines) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Engine", "Revenue", "Share")
	for i, e := range r.TopEngines {
		table.Append(
			fmt.Sprintf("%d", i+1),
			e.Engine,
			fmt.Sprintf("$%.2f", e.Revenue),
			fmt.Sprintf("%.1f%%", pct(e.Revenue, r.TotalRevenue)),
		)
	}
	table.Render()
	return nil
}

// NotifyAllocation imprime un resultado de Allocate.
func (c *Console) NotifyAllocation(_ context.Context, r capital.Result) error {
	fmt.Fprintf(c.out, "\n=== CAPITAL (%s, runway %dd, kelly limit %.2f) ===\n",
		r.RiskProfile, r.RunwayDays, r.KellyLimit)
	if len(r.Allocations) == 0 {
		fmt.Fprintln(c.out, "  no allocations")
	} else {
		table := tablewriter.NewWriter(c.out)
		table.Header("Opp", "Amount", "Max", "Kelly", "Risk-adj EV")
		for _, a := range r.Allocations {
			table.Append(
				truncate(a.OppID, 24),
				fmt.Sprintf("$%.2f", a.Amount),
				fmt.Sprintf("$%.2f", a.MaxAmount),
				fmt.Sprintf("%.4f", a.KellyFraction),
				fmt.Sprintf("$%.2f", a.RiskAdjustedEV),
			)
		}
		table.Render()
	}
	fmt.Fprintf(c.out, "  Allocated: $%.2f   Remaining: $%.2f\n", r.TotalAllocated, r.BudgetRemaining)
	return nil
}

func (c *Console) stamp() string {
	return c.now().Format("15:04:05")
}

// --- helpers ---

func countDecisions(recs []domain.Recommendation) (proceed, escrow, blocked int) {
	for _, r := range recs {
		switch {
		case r.Block:
			blocked++
		case r.RequireEscrow:
			escrow++
			proceed++
		case r.Proceed:
			proceed++
		}
	}
	return
}

func decision(r domain.Recommendation) string {
	switch {
	case r.Block:
		return "BLOCK"
	case r.RequireEscrow:
		return "ESCROW"
	case r.Proceed:
		return "GO"
	}
	return "HOLD"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func compactName(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}

func pct(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}
