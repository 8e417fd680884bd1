package stats

import (
	"context"
	"fmt"
	"time"
)

const (
	alertBudgetExceeded = "budget_exceeded"
	alertBudgetWarning  = "budget_warning"
)

// AlertNotifier delivers remote spend alerts.
type AlertNotifier interface {
	SendCostAlert(ctx context.Context, alert *CostAlert) error
}

// CostAlert reports remote spend approaching or passing the configured budget.
type CostAlert struct {
	Type      string    `json:"type"`
	SpendUSD  float64   `json:"spend_usd"`
	BudgetUSD float64   `json:"budget_usd"`
	OverByUSD float64   `json:"over_by_usd"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *CostAlert) String() string {
	switch a.Type {
	case alertBudgetExceeded:
		return fmt.Sprintf("Remote spend $%.4f exceeds budget $%.4f by $%.4f", a.SpendUSD, a.BudgetUSD, a.OverByUSD)
	case alertBudgetWarning:
		return fmt.Sprintf("Remote spend $%.4f, $%.4f of budget remaining", a.SpendUSD, -a.OverByUSD)
	default:
		return fmt.Sprintf("Unknown alert type: %s", a.Type)
	}
}

// checkBudget alerts once per level crossing; a reset re-arms both levels.
func (m *Monitor) checkBudget(ctx context.Context, agg Aggregates) {
	budget := m.cfg.RemoteBudgetUSD
	if budget <= 0 {
		return
	}

	remaining := budget - agg.RemoteSpendUSD
	level := ""
	switch {
	case remaining < 0:
		level = alertBudgetExceeded
	case remaining < budget*0.1:
		level = alertBudgetWarning
	}

	m.mu.Lock()
	if level == "" || level == m.lastAlertLevel || (m.lastAlertLevel == alertBudgetExceeded && level == alertBudgetWarning) {
		m.mu.Unlock()
		return
	}
	m.lastAlertLevel = level
	m.mu.Unlock()

	alert := &CostAlert{
		Type:      level,
		SpendUSD:  agg.RemoteSpendUSD,
		BudgetUSD: budget,
		OverByUSD: -remaining,
		Timestamp: m.now(),
	}
	m.logger.Warn("remote spend alert", "type", alert.Type, "spend_usd", alert.SpendUSD, "budget_usd", budget)
	if m.notifier == nil {
		return
	}
	if err := m.notifier.SendCostAlert(ctx, alert); err != nil {
		m.logger.Error("failed to send cost alert", "type", alert.Type, "error", err)
	}
}
