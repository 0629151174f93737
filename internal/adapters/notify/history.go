package notify

import (
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/domain"
)

// PrintSnapshots imprime la serie histórica de KPIs persistida.
func (c *Console) PrintSnapshots(snaps []domain.KPISnapshot) {
	fmt.Fprintf(c.out, "\n=== KPI HISTORY (%d snapshots) ===\n", len(snaps))
	if len(snaps) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "$/token", "Payback", "CAC/LTV", "Win", "Refund", "Assured", "Revenue", "Spend")
	for _, s := range snaps {
		table.Append(
			s.Timestamp.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.4f", s.CashPerToken),
			fmt.Sprintf("%dd", s.PaybackDaysMedian),
			fmt.Sprintf("%.2f", s.CACLTVRatio),
			fmt.Sprintf("%.1f%%", s.WinRate*100),
			fmt.Sprintf("%.1f%%", s.RefundRate*100),
			fmt.Sprintf("%.1f%%", s.AssuredShare*100),
			fmt.Sprintf("$%.2f", s.TotalRevenue),
			fmt.Sprintf("$%.2f", s.TotalSpend),
		)
	}
	table.Render()
}

// PrintPosteriors imprime los brazos con más pulls de cada nivel del bandit.
func (c *Console) PrintPosteriors(states []bandit.ArmState, perLevel int) {
	fmt.Fprintf(c.out, "\n=== BANDIT POSTERIORS (%d arms) ===\n", len(states))
	if len(states) == 0 {
		return
	}

	byLevel := map[string][]bandit.ArmState{}
	for _, s := range states {
		byLevel[s.Level] = append(byLevel[s.Level], s)
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Level", "Arm", "Mean", "α", "β", "Pulls", "Reward")
	for _, lvl := range []string{bandit.LevelGlobal, bandit.LevelSegment, bandit.LevelPlatform, bandit.LevelSKU} {
		arms := byLevel[lvl]
		sort.Slice(arms, func(i, j int) bool {
			if arms[i].Pulls != arms[j].Pulls {
				return arms[i].Pulls > arms[j].Pulls
			}
			return arms[i].Key < arms[j].Key
		})
		if perLevel > 0 && len(arms) > perLevel {
			arms = arms[:perLevel]
		}
		for _, a := range arms {
			table.Append(
				lvl,
				truncate(a.Key, 40),
				fmt.Sprintf("%.3f", a.Alpha/(a.Alpha+a.Beta)),
				fmt.Sprintf("%.1f", a.Alpha),
				fmt.Sprintf("%.1f", a.Beta),
				fmt.Sprintf("%d", a.Pulls),
				fmt.Sprintf("%.2f", a.TotalReward),
			)
		}
	}
	table.Render()
}
