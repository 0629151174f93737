package notify

import (
	"context"
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/revcore/internal/attribution"
	"github.com/alejandrodnm/revcore/internal/experiment"
	"github.com/alejandrodnm/revcore/internal/uplift"
)

// NotifyAttribution imprime los valores Shapley ordenados.
func (c *Console) NotifyAttribution(_ context.Context, values []attribution.Value) error {
	fmt.Fprintln(c.out, "\n=== ATTRIBUTION (Shapley) ===")
	if len(values) == 0 {
		fmt.Fprintln(c.out, "  no outcomes recorded")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Engine", "Value", "Samples", "Confidence", "±SE", "Method")
	for _, v := range values {
		method := "exact"
		if !v.Exact {
			method = "monte-carlo"
		}
		table.Append(
			v.Engine,
			fmt.Sprintf("$%.2f", v.Value),
			fmt.Sprintf("%d", v.SampleSize),
			fmt.Sprintf("%.2f", v.Confidence),
			fmt.Sprintf("%.2f", v.StdErr),
			method,
		)
	}
	table.Render()
	return nil
}

// NotifyUplift imprime las estimaciones de uplift por engine.
func (c *Console) NotifyUplift(_ context.Context, estimates map[string]uplift.Estimate) error {
	fmt.Fprintln(c.out, "\n=== CAUSAL UPLIFT ===")
	if len(estimates) == 0 {
		fmt.Fprintln(c.out, "  insufficient data")
		return nil
	}

	names := make([]string, 0, len(estimates))
	for n := range estimates {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return estimates[names[i]].Uplift > estimates[names[j]].Uplift
	})

	table := tablewriter.NewWriter(c.out)
	table.Header("Engine", "Treatment", "Control", "Uplift", "Uplift %", "p", "Conf", "n")
	for _, n := range names {
		e := estimates[n]
		table.Append(
			n,
			fmt.Sprintf("$%.2f", e.TreatmentMean),
			fmt.Sprintf("$%.2f", e.ControlMean),
			fmt.Sprintf("$%.2f", e.Uplift),
			fmt.Sprintf("%.1f%%", e.UpliftPct*100),
			fmt.Sprintf("%.3f", e.PValue),
			fmt.Sprintf("%.2f", e.Confidence),
			fmt.Sprintf("%d", e.SampleSize),
		)
	}
	table.Render()
	return nil
}

// NotifyExperiments imprime el pool de experimentos.
func (c *Console) NotifyExperiments(_ context.Context, exps []experiment.Experiment) error {
	fmt.Fprintf(c.out, "\n=== EXPERIMENTS (%d) ===\n", len(exps))
	if len(exps) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Name", "Treatment", "Control", "Traffic", "Status", "T win", "C win", "T rev", "C rev")
	for _, e := range exps {
		table.Append(
			truncate(e.Name, 24),
			e.TreatmentEngine,
			e.ControlEngine,
			fmt.Sprintf("%.0f%%", e.TrafficPct*100),
			string(e.Status),
			fmt.Sprintf("%d/%d", e.TreatmentWins, e.TreatmentTrials),
			fmt.Sprintf("%d/%d", e.ControlWins, e.ControlTrials),
			fmt.Sprintf("$%.2f", e.TreatmentRevenue),
			fmt.Sprintf("$%.2f", e.ControlRevenue),
		)
	}
	table.Render()
	return nil
}
