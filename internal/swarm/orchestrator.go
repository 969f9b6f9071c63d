// Package swarm hosts the orchestrator: it builds the agent population,
// runs each agent on its own cadence, supervises aggregate health, and
// produces the final report at shutdown.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/agent"
	"github.com/swarmlab/apiary/internal/config"
	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
	"github.com/swarmlab/apiary/pkg/logger"
)

const (
	// panicPause is how long an agent loop pauses after recovering from a
	// panic before resuming its cadence.
	panicPause = 5 * time.Second

	// supervisorInterval is the cadence of the aggregate health log line.
	supervisorInterval = 30 * time.Second
)

// Orchestrator owns the swarm lifecycle. Agents never see each other or
// the orchestrator; their only shared state is the environment.
type Orchestrator struct {
	cfg      *config.Config
	env      *environment.Environment
	gateway  domain.MarketGateway
	scorer   domain.Scorer
	recorder domain.TradeRecorder
	log      zerolog.Logger

	mu        sync.Mutex
	agents    []agent.Agent
	started   bool
	startedAt time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an orchestrator. The scorer defaults to the technical scorer
// over the shared environment's price cache.
func New(cfg *config.Config, env *environment.Environment, gateway domain.MarketGateway, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		env:     env,
		gateway: gateway,
		scorer:  &agent.TechnicalScorer{Env: env, Gateway: gateway},
		log:     logger.Component(log, "swarm"),
		stop:    make(chan struct{}),
	}
}

// SetScorer overrides the opportunity scorer. Must be called before
// Initialize.
func (o *Orchestrator) SetScorer(s domain.Scorer) {
	o.scorer = s
}

// SetRecorder attaches an optional closed-trade recorder passed to every
// worker. Must be called before Initialize.
func (o *Orchestrator) SetRecorder(r domain.TradeRecorder) {
	o.recorder = r
}

// Initialize builds the population: one queen, one drone, and scout/worker
// counts derived from the configured swarm size. Symbols are partitioned
// round-robin across scouts so every symbol has exactly one owner.
// Construction failure aborts before any goroutine starts.
func (o *Orchestrator) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.agents) > 0 {
		return fmt.Errorf("swarm already initialized")
	}

	numScouts := o.cfg.SwarmSize / 3
	if numScouts < 1 {
		numScouts = 1
	}
	numWorkers := o.cfg.SwarmSize / 5
	if numWorkers < 1 {
		numWorkers = 1
	}

	queen, err := agent.NewQueen("queen-001", o.env, o.cfg.Symbols, o.cfg.CapitalBudget, o.cfg.QueenInterval, o.log)
	if err != nil {
		return fmt.Errorf("failed to create queen: %w", err)
	}
	o.agents = append(o.agents, queen)

	for i, partition := range partitionSymbols(o.cfg.Symbols, numScouts) {
		id := fmt.Sprintf("scout-%03d", i)
		o.agents = append(o.agents, agent.NewScout(id, o.env, partition, o.gateway, o.scorer, o.cfg.ScoutInterval, o.log))
	}

	for i := 0; i < numWorkers; i++ {
		id := fmt.Sprintf("worker-%03d", i)
		w := agent.NewWorker(id, o.env, o.gateway, o.cfg.WorkerInterval, o.log)
		if o.recorder != nil {
			w.SetRecorder(o.recorder)
		}
		o.agents = append(o.agents, w)
	}

	o.agents = append(o.agents, agent.NewDrone("drone-001", o.env, o.cfg.DroneInterval, o.log))

	o.log.Info().
		Int("scouts", numScouts).
		Int("workers", numWorkers).
		Int("total", len(o.agents)).
		Strs("symbols", o.cfg.Symbols).
		Msg("Swarm initialized")
	return nil
}

// partitionSymbols deals symbols round-robin into n partitions. Partitions
// can be empty when there are more scouts than symbols; an empty partition
// is a valid (idle) scout assignment.
func partitionSymbols(symbols []string, n int) [][]string {
	parts := make([][]string, n)
	for i, sym := range symbols {
		parts[i%n] = append(parts[i%n], sym)
	}
	return parts
}

// Start launches one goroutine per agent plus the supervisor.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.agents) == 0 {
		return fmt.Errorf("swarm not initialized")
	}
	if o.started {
		return fmt.Errorf("swarm already started")
	}
	o.started = true
	o.startedAt = time.Now()

	for _, a := range o.agents {
		o.wg.Add(1)
		go o.runAgent(a)
	}

	o.wg.Add(1)
	go o.supervise()

	o.log.Info().Int("agents", len(o.agents)).Msg("Swarm started")
	return nil
}

// runAgent is the scheduling loop for one agent: check the active flag at
// the top of every cycle, run the cycle with panic recovery, sleep the
// role's interval. A stopping swarm never interrupts an in-flight cycle.
func (o *Orchestrator) runAgent(a agent.Agent) {
	defer o.wg.Done()

	log := o.log.With().Str("agent", a.ID()).Logger()
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		if !a.Active() {
			log.Debug().Msg("Agent deactivated, exiting loop")
			return
		}

		if !o.safeCycle(a, log) {
			// Recovered from a panic; pause before resuming.
			select {
			case <-o.stop:
				return
			case <-time.After(panicPause):
			}
		}

		select {
		case <-o.stop:
			return
		case <-time.After(a.Interval()):
		}
	}
}

// safeCycle runs one agent cycle and absorbs panics. Returns false when it
// recovered from one.
func (o *Orchestrator) safeCycle(a agent.Agent, log zerolog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			log.Error().Interface("panic", r).Msg("Agent cycle panicked, pausing before resume")
		}
	}()

	a.RunCycle(context.Background())
	return true
}

// supervise logs aggregate swarm health on a fixed cadence.
func (o *Orchestrator) supervise() {
	defer o.wg.Done()

	ticker := time.NewTicker(supervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			r := o.Report()
			o.log.Info().
				Int("active_agents", r.ActiveAgents).
				Uint64("actions_attempted", r.TotalAttempted).
				Float64("success_rate", r.SuccessRate).
				Int("live_signals", r.LiveSignals).
				Int("open_positions", r.OpenPositions).
				Float64("total_pnl", r.TotalPnL).
				Msg("Swarm health")
		}
	}
}

// Stop deactivates every agent, waits for in-flight cycles to finish, and
// returns the final report. The report is produced unconditionally, even
// for a swarm that never ran a single successful cycle.
func (o *Orchestrator) Stop() *Report {
	o.mu.Lock()
	for _, a := range o.agents {
		a.Deactivate()
	}
	o.mu.Unlock()

	o.stopOnce.Do(func() { close(o.stop) })
	o.wg.Wait()

	report := o.Report()
	o.logReport(report)
	return report
}

// AgentStats returns a snapshot of every agent's counters.
func (o *Orchestrator) AgentStats() []agent.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]agent.Stats, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a.Stats())
	}
	return out
}
