package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/vault"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out     io.Writer
	verbose bool
}

// NewConsole crea un notificador que escribe a stdout. verbose imprime
// también los ciclos salteados por cooldown.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// Notify imprime una línea por ciclo del keeper.
func (c *Console) Notify(_ context.Context, r domain.CycleReport) error {
	now := r.At.Local().Format("15:04:05")

	if r.Err != nil {
		cooldown := errors.Is(r.Err, domain.ErrRebalanceCooldown) || errors.Is(r.Err, domain.ErrReexpansionCooldown)
		if cooldown && !c.verbose {
			return nil
		}
		tag := "ERR"
		switch {
		case cooldown:
			tag = "WAIT"
		case errors.Is(r.Err, domain.ErrVaultHalted):
			tag = "HALT"
		}
		fmt.Fprintf(c.out, "[%s] tick %d %s %v\n", now, r.Tick, tag, r.Err)
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] tick %d %-8s", now, r.Tick, strings.ToUpper(r.State.String()))
	if rd := r.Reading; rd != nil {
		fmt.Fprintf(&sb, " | px %s peg %dbps", formatUnits(rd.FusedPrice), rd.PegDeviationBps)
		if rd.Secondary != nil {
			fmt.Fprintf(&sb, " conflict %dbps", rd.ConflictBps)
		}
		if !rd.QualityOK {
			fmt.Fprintf(&sb, " !! %s", rd.QualityIssue)
		}
	}
	if rec := r.Record; rec != nil {
		fmt.Fprintf(&sb, " | hf %s lev %s→%s",
			formatBps(rec.HealthFactorBps), formatBps(rec.LeverageBefore), formatBps(rec.LeverageAfter))
		if rec.Borrowed > 0 {
			fmt.Fprintf(&sb, " +borrow %s", formatUnits(rec.Borrowed))
		}
		if rec.Repaid > 0 {
			fmt.Fprintf(&sb, " -repay %s", formatUnits(rec.Repaid))
		}
	}
	fmt.Fprintf(&sb, " (%s)", r.Duration.Round(time.Millisecond))
	fmt.Fprintln(c.out, sb.String())
	return nil
}

// PrintStatus imprime el estado del vault, las posiciones y los últimos
// rebalanceos.
func (c *Console) PrintStatus(st *vault.Status) {
	v := st.Vault

	state := "ACTIVE"
	if v.Halted {
		state = fmt.Sprintf("HALTED since %s: %s", v.HaltedAt.Format(time.RFC3339), v.HaltReason)
	}

	fmt.Fprintf(c.out, "\n=== AEGIS VAULT [%s] ===\n", state)
	fmt.Fprintf(c.out, "  Authority:      %s\n", v.Authority)
	fmt.Fprintf(c.out, "  Feeds:          %s", v.PrimaryFeed)
	if v.SecondaryFeed != "" {
		fmt.Fprintf(c.out, " + %s", v.SecondaryFeed)
	}
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  Supplied:       %s\n", formatUnits(v.TotalSupplied))
	fmt.Fprintf(c.out, "  Borrowed:       %s\n", formatUnits(v.TotalBorrowed))
	fmt.Fprintf(c.out, "  Equity:         %s\n", formatUnits(st.Equity))
	fmt.Fprintf(c.out, "  Liquidity:      %s\n", formatUnits(st.Liquidity))
	fmt.Fprintf(c.out, "  Shares:         %s\n", formatUnits(v.TotalShares))
	fmt.Fprintf(c.out, "  Leverage:       %s (max %s)\n", formatBps(st.LeverageBps), formatBps(v.Config.MaxLeverageBps))
	fmt.Fprintf(c.out, "  Next rebalance: tick %d\n", st.NextRebalanceTick)
	if !st.ReexpansionAt.IsZero() {
		fmt.Fprintf(c.out, "  Re-expansion:   %s\n", st.ReexpansionAt.Format(time.RFC3339))
	}

	if len(st.Positions) > 0 {
		fmt.Fprintln(c.out)
		table := tablewriter.NewWriter(c.out)
		table.Header("#", "Owner", "Shares", "Value", "Since")
		for i, p := range st.Positions {
			value := "-"
			if v.TotalShares > 0 {
				if amt, err := v.AssetsForShares(p.Shares); err == nil {
					value = formatUnits(amt)
				}
			}
			table.Append(
				fmt.Sprintf("%d", i+1),
				shortKey(p.Owner),
				formatUnits(p.Shares),
				value,
				p.DepositedAt.Format("2006-01-02"),
			)
		}
		table.Render()
	}

	if len(st.Recent) > 0 {
		fmt.Fprintln(c.out)
		table := tablewriter.NewWriter(c.out)
		table.Header("Tick", "At", "State", "Peg", "HF", "Lev", "Borrowed", "Repaid")
		for _, r := range st.Recent {
			table.Append(
				fmt.Sprintf("%d", r.Tick),
				r.ExecutedAt.Format("01-02 15:04"),
				r.State.String(),
				fmt.Sprintf("%dbps", r.PegDeviationBps),
				formatBps(r.HealthFactorBps),
				fmt.Sprintf("%s→%s", formatBps(r.LeverageBefore), formatBps(r.LeverageAfter)),
				formatUnits(r.Borrowed),
				formatUnits(r.Repaid),
			)
		}
		table.Render()
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

// formatUnits muestra un monto en unidades mínimas con 6 decimales.
func formatUnits(v uint64) string {
	return fmt.Sprintf("%d.%06d", v/1_000_000, v%1_000_000)
}

// formatBps muestra un ratio en bps como multiplicador (15000 → 1.50x).
func formatBps(bps uint64) string {
	if bps == math.MaxUint64 {
		return "INF"
	}
	return fmt.Sprintf("%d.%02dx", bps/10_000, bps%10_000/100)
}

func shortKey(k string) string {
	if len(k) <= 12 {
		return k
	}
	return k[:4] + "…" + k[len(k)-4:]
}
