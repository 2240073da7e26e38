package retrieval

import (
	"errors"
	"fmt"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ppr"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/seed"
)

// Configuration errors callers can match with errors.Is.
var (
	ErrMissingTenant     = common.ErrMissingTenant
	ErrEmptyQuery        = errors.New("query is empty")
	ErrInvalidWeights    = seed.ErrInvalidWeights
	ErrDampingOutOfRange = seed.ErrDampingOutOfRange
	ErrMalformedTeleport = ppr.ErrMalformedTeleport
	ErrNoSynthesizer     = errors.New("no synthesizer configured")
)

// Stages that can fail a run.
const (
	StagePPR       = "ppr"
	StageSynthesis = "synthesis"
)

// StageError reports a stage that failed after the request was accepted.
type StageError struct {
	Stage     string
	TenantID  string
	Query     string
	SeedCount int
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("retrieval stage %s failed for tenant %s (%d seeds): %v", e.Stage, e.TenantID, e.SeedCount, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err stems from invalid input or configuration
// rather than a failing stage. A malformed teleport vector is a stage failure.
func IsConfigError(err error) bool {
	for _, target := range []error{
		ErrMissingTenant,
		ErrEmptyQuery,
		ErrInvalidWeights,
		ErrDampingOutOfRange,
		ErrInvalidConfig,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
