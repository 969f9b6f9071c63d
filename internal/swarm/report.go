package swarm

import (
	"time"

	"github.com/swarmlab/apiary/internal/agent"
)

// AgentReport is one agent's line in the swarm report.
type AgentReport struct {
	ID          string     `json:"id"`
	Kind        agent.Kind `json:"kind"`
	Energy      float64    `json:"energy"`
	Attempted   uint64     `json:"actions_attempted"`
	Succeeded   uint64     `json:"actions_succeeded"`
	SuccessRate float64    `json:"success_rate"`
	PnL         float64    `json:"pnl_contribution"`
	Active      bool       `json:"active"`
}

// Report is a point-in-time snapshot of the whole swarm, served over HTTP
// while running and logged (and journaled) as the final report at stop.
type Report struct {
	GeneratedAt    time.Time     `json:"generated_at"`
	Uptime         time.Duration `json:"uptime"`
	Agents         []AgentReport `json:"agents"`
	ActiveAgents   int           `json:"active_agents"`
	TotalAttempted uint64        `json:"total_attempted"`
	TotalSucceeded uint64        `json:"total_succeeded"`
	SuccessRate    float64       `json:"success_rate"`
	TotalPnL       float64       `json:"total_pnl"`
	LiveSignals    int           `json:"live_signals"`
	OpenPositions  int           `json:"open_positions"`
	TotalAllocated float64       `json:"total_allocated"`
}

// Report builds a snapshot from agent counters and environment state.
func (o *Orchestrator) Report() *Report {
	now := time.Now()

	r := &Report{
		GeneratedAt:   now,
		LiveSignals:   o.env.SignalCount(""),
		OpenPositions: o.env.PositionCount(),
	}
	r.TotalAllocated = o.env.TotalAllocated()

	o.mu.Lock()
	if o.started {
		r.Uptime = now.Sub(o.startedAt)
	}
	stats := make([]agent.Stats, 0, len(o.agents))
	for _, a := range o.agents {
		stats = append(stats, a.Stats())
	}
	o.mu.Unlock()

	for _, s := range stats {
		r.Agents = append(r.Agents, AgentReport{
			ID:          s.ID,
			Kind:        s.Kind,
			Energy:      s.Energy,
			Attempted:   s.Attempted,
			Succeeded:   s.Succeeded,
			SuccessRate: s.SuccessRate(),
			PnL:         s.PnL,
			Active:      s.Active,
		})
		if s.Active {
			r.ActiveAgents++
		}
		r.TotalAttempted += s.Attempted
		r.TotalSucceeded += s.Succeeded
		r.TotalPnL += s.PnL
	}
	if r.TotalAttempted > 0 {
		r.SuccessRate = float64(r.TotalSucceeded) / float64(r.TotalAttempted)
	}
	return r
}

// logReport emits the final report: one summary line plus one line per
// agent.
func (o *Orchestrator) logReport(r *Report) {
	o.log.Info().
		Dur("uptime", r.Uptime).
		Uint64("total_attempted", r.TotalAttempted).
		Uint64("total_succeeded", r.TotalSucceeded).
		Float64("success_rate", r.SuccessRate).
		Float64("total_pnl", r.TotalPnL).
		Int("open_positions", r.OpenPositions).
		Msg("Final swarm report")

	for _, a := range r.Agents {
		o.log.Info().
			Str("agent", a.ID).
			Str("role", string(a.Kind)).
			Uint64("attempted", a.Attempted).
			Uint64("succeeded", a.Succeeded).
			Float64("success_rate", a.SuccessRate).
			Float64("energy", a.Energy).
			Float64("pnl", a.PnL).
			Msg("Agent report")
	}
}
