package query

import (
	"sort"
	"sync"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type TraceEventKind string

const (
	TraceEventTierIDs            TraceEventKind = "tier_ids"
	TraceEventSections           TraceEventKind = "sections"
	TraceEventCommunities        TraceEventKind = "communities"
	TraceEventSeeds              TraceEventKind = "seeds"
	TraceEventRankedEntities     TraceEventKind = "ranked_entities"
	TraceEventConsideredPassages TraceEventKind = "considered_passages"
	TraceEventUsedPassages       TraceEventKind = "used_passages"
	TraceEventDegraded           TraceEventKind = "degraded"
	TraceEventStage              TraceEventKind = "stage"
	TraceEventModelUsage         TraceEventKind = "model_usage"
)

// TraceEvent is an extensible event envelope for retrieval tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Tier    string
	IDs     []string
	Seeds   []common.WeightedSeed
	Damping float64

	Stage      string
	DurationMs int64
	Error      string

	Usage ai.ModelMetrics
}

// Tracer is a sink for retrieval tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordTierIDs(t Tracer, tier string, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventTierIDs, Tier: tier, IDs: ids})
}

func RecordSections(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSections, IDs: ids})
}

func RecordCommunities(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCommunities, IDs: ids})
}

func RecordSeeds(t Tracer, seeds []common.WeightedSeed, damping float64) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeeds, Seeds: seeds, Damping: damping})
}

func RecordRankedEntities(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventRankedEntities, IDs: ids})
}

func RecordConsideredPassages(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredPassages, IDs: ids})
}

func RecordUsedPassages(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedPassages, IDs: ids})
}

func RecordDegraded(t Tracer, stage string, err error) {
	if t == nil {
		return
	}
	ev := TraceEvent{Kind: TraceEventDegraded, Stage: stage}
	if err != nil {
		ev.Error = err.Error()
	}
	t.Record(ev)
}

// RecordModelUsage sets the model usage of the run so far. Later calls
// replace earlier ones.
func RecordModelUsage(t Tracer, usage ai.ModelMetrics) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventModelUsage, Usage: usage})
}

func RecordStage(t Tracer, stage string, took time.Duration) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStage, Stage: stage, DurationMs: took.Milliseconds()})
}

// QueryTrace collects what a retrieval run looked at and what ended up in
// the evidence bundle.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	ID string

	mu sync.Mutex

	tiers              map[string]map[string]struct{}
	sections           map[string]struct{}
	communities        map[string]struct{}
	rankedEntities     map[string]struct{}
	consideredPassages map[string]struct{}
	usedPassages       map[string]struct{}
	degraded           map[string]string
	seeds              []common.WeightedSeed
	damping            float64
	stages             map[string]int64
	usage              *ai.ModelMetrics
}

type QueryTraceSnapshot struct {
	ID                 string                `json:"id"`
	TierIDs            map[string][]string   `json:"tier_ids"`
	Sections           []string              `json:"sections"`
	Communities        []string              `json:"communities"`
	Seeds              []common.WeightedSeed `json:"seeds"`
	Damping            float64               `json:"damping"`
	RankedEntities     []string              `json:"ranked_entities"`
	ConsideredPassages []string              `json:"considered_passages"`
	UsedPassages       []string              `json:"used_passages"`
	Degraded           map[string]string     `json:"degraded,omitempty"`
	StageMs            map[string]int64      `json:"stage_ms,omitempty"`
	ModelUsage         *ai.ModelMetrics      `json:"model_usage,omitempty"`
}

func NewQueryTrace() *QueryTrace {
	id, err := gonanoid.New()
	if err != nil {
		id = ""
	}
	return &QueryTrace{
		ID:                 id,
		tiers:              make(map[string]map[string]struct{}),
		sections:           make(map[string]struct{}),
		communities:        make(map[string]struct{}),
		rankedEntities:     make(map[string]struct{}),
		consideredPassages: make(map[string]struct{}),
		usedPassages:       make(map[string]struct{}),
		degraded:           make(map[string]string),
		stages:             make(map[string]int64),
	}
}

func addAll(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventTierIDs:
		set, ok := t.tiers[event.Tier]
		if !ok {
			set = make(map[string]struct{})
			t.tiers[event.Tier] = set
		}
		addAll(set, event.IDs)
	case TraceEventSections:
		addAll(t.sections, event.IDs)
	case TraceEventCommunities:
		addAll(t.communities, event.IDs)
	case TraceEventSeeds:
		t.seeds = append([]common.WeightedSeed(nil), event.Seeds...)
		t.damping = event.Damping
	case TraceEventRankedEntities:
		addAll(t.rankedEntities, event.IDs)
	case TraceEventConsideredPassages:
		addAll(t.consideredPassages, event.IDs)
	case TraceEventUsedPassages:
		addAll(t.usedPassages, event.IDs)
	case TraceEventDegraded:
		if event.Stage != "" {
			t.degraded[event.Stage] = event.Error
		}
	case TraceEventStage:
		if event.Stage != "" {
			t.stages[event.Stage] += event.DurationMs
		}
	case TraceEventModelUsage:
		usage := event.Usage
		t.usage = &usage
	default:
		return
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		ID:                 t.ID,
		TierIDs:            make(map[string][]string, len(t.tiers)),
		Sections:           sortedKeys(t.sections),
		Communities:        sortedKeys(t.communities),
		Seeds:              append([]common.WeightedSeed(nil), t.seeds...),
		Damping:            t.damping,
		RankedEntities:     sortedKeys(t.rankedEntities),
		ConsideredPassages: sortedKeys(t.consideredPassages),
		UsedPassages:       sortedKeys(t.usedPassages),
	}
	for tier, set := range t.tiers {
		s.TierIDs[tier] = sortedKeys(set)
	}
	if len(t.degraded) > 0 {
		s.Degraded = make(map[string]string, len(t.degraded))
		for k, v := range t.degraded {
			s.Degraded[k] = v
		}
	}
	if len(t.stages) > 0 {
		s.StageMs = make(map[string]int64, len(t.stages))
		for k, v := range t.stages {
			s.StageMs[k] = v
		}
	}

	if t.usage != nil {
		usage := *t.usage
		s.ModelUsage = &usage
	}

	return s
}
