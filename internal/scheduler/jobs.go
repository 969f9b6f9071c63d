package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/environment"
)

// PruneJob sweeps expired signals out of the environment so an idle swarm
// does not accumulate dead signals between deposits.
type PruneJob struct {
	Env *environment.Environment
	Log zerolog.Logger
}

func (j *PruneJob) Name() string { return "signal_prune" }

func (j *PruneJob) Run() error {
	if removed := j.Env.Prune(); removed > 0 {
		j.Log.Debug().Int("removed", removed).Msg("Pruned expired signals")
	}
	return nil
}

// Checkpointer is what the journal exposes for WAL maintenance.
type Checkpointer interface {
	Checkpoint() error
}

// CheckpointJob truncates the journal's WAL file.
type CheckpointJob struct {
	Journal Checkpointer
}

func (j *CheckpointJob) Name() string { return "journal_checkpoint" }

func (j *CheckpointJob) Run() error {
	return j.Journal.Checkpoint()
}
