package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mujians/vantyx-assistant/pkg/usage"
)

type dailyStats struct {
	usage.PeriodTotals
	Date string `json:"date"`
}

type monthlyStats struct {
	usage.MonthlyUsage
	Month           string  `json:"month"`
	BudgetLimit     float64 `json:"budgetLimit"`
	RemainingBudget float64 `json:"remainingBudget"`
	PercentUsed     float64 `json:"percentUsed"`
}

type budgetStats struct {
	Limit      float64   `json:"limit"`
	Thresholds []float64 `json:"thresholds"`
	usage.BudgetStatus
}

type usageStatsResponse struct {
	Daily   dailyStats   `json:"daily"`
	Monthly monthlyStats `json:"monthly"`
	Budget  budgetStats  `json:"budget"`
}

// handleUsageStats reports the current daily and monthly aggregates along
// with the budget position.
func (s *Server) handleUsageStats(c *gin.Context) {
	monthly := s.tracker.MonthlySnapshot()
	limit := s.monitor.Limit()
	percent := 0.0
	if limit > 0 {
		percent = monthly.TotalCost / limit * 100
	}

	status := s.monitor.CheckThreshold()

	c.JSON(http.StatusOK, usageStatsResponse{
		Daily: dailyStats{
			PeriodTotals: s.tracker.DailySnapshot(),
			Date:         s.tracker.DateKey(),
		},
		Monthly: monthlyStats{
			MonthlyUsage:    monthly,
			Month:           s.tracker.MonthKey(),
			BudgetLimit:     limit,
			RemainingBudget: limit - monthly.TotalCost,
			PercentUsed:     percent,
		},
		Budget: budgetStats{
			Limit:        limit,
			Thresholds:   s.monitor.Thresholds(),
			BudgetStatus: status,
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
