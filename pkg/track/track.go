// Package track turns a stream of independent per-frame detections into a
// temporally coherent set of tracked entities. Per-frame NN output flickers:
// labels flip between lookalike classes, boxes jitter, and objects vanish for
// a frame or two. We suppress all of that with IoU matching across frames,
// plurality voting over a bounded label history, and hysteresis before an
// entity is dropped.
//
// A Tracker is a per-stream stateful accumulator, not a shared service.
// Create one per camera session, and serialize calls to it - there is no
// internal locking.
package track

import (
	"errors"
	"fmt"
	"math"
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/bmharper/ringbuffer"
	"github.com/cardsight/cardsight/pkg/nn"
	"github.com/cyclopcam/logs"
)

const DefaultMatchIoU = 0.3
const DefaultHistorySize = 10
const DefaultMissedFrameThreshold = 5
const DefaultMinStability = 0.5
const DefaultConfidenceEMA = 0.3

type Options struct {
	MatchIoU             float32 // Minimum IoU between a detection and an entity's last position for them to match
	HistorySize          int     // Number of recent labels to keep per entity, for voting
	MissedFrameThreshold int     // Entity is removed after this many consecutive unmatched frames
	MinStability         float32 // Entity is reported only once its vote stability reaches this fraction
	ConfidenceEMA        float32 // Weight of the newest confidence sample in the moving average
}

func DefaultOptions() *Options {
	return &Options{
		MatchIoU:             DefaultMatchIoU,
		HistorySize:          DefaultHistorySize,
		MissedFrameThreshold: DefaultMissedFrameThreshold,
		MinStability:         DefaultMinStability,
		ConfidenceEMA:        DefaultConfidenceEMA,
	}
}

// Configuration mistakes are programmer errors, so we reject them up front
// instead of limping along.
func (o *Options) validate() error {
	if o.HistorySize <= 0 {
		return errors.New("HistorySize must be > 0")
	}
	if o.MissedFrameThreshold <= 0 {
		return errors.New("MissedFrameThreshold must be > 0")
	}
	if o.MatchIoU <= 0 || o.MatchIoU >= 1 {
		return fmt.Errorf("MatchIoU %v is outside (0,1)", o.MatchIoU)
	}
	if o.MinStability < 0 || o.MinStability > 1 {
		return fmt.Errorf("MinStability %v is outside [0,1]", o.MinStability)
	}
	if o.ConfidenceEMA <= 0 || o.ConfidenceEMA > 1 {
		return fmt.Errorf("ConfidenceEMA %v is outside (0,1]", o.ConfidenceEMA)
	}
	return nil
}

type Role int

const (
	RoleUnassigned Role = iota
	RolePrimary
	RoleSecondary
)

// Entity is a read-only snapshot of one tracked object
type Entity struct {
	ID           int64    `json:"id"`
	Label        string   `json:"label"` // The plurality vote winner of the recent label history
	Confidence   float32  `json:"confidence"`
	Box          nn.Rect  `json:"box"`
	Stability    float32  `json:"stability"` // Fraction of the recent history that agrees with Label
	FramesSeen   int      `json:"framesSeen"`
	FramesMissed int      `json:"framesMissed"`
	Role         Role     `json:"role"`
}

// Internal state of an entity that we're tracking
type trackedEntity struct {
	id           int64
	box          nn.Rect
	history      ringbuffer.RingP[string] // sized to hold at least HistorySize entries; we vote over the last HistorySize
	votedLabel   string
	voteCount    int
	windowLen    int
	confidence   float32
	framesSeen   int
	framesMissed int
	role         Role
}

func (e *trackedEntity) stability() float32 {
	if e.windowLen == 0 {
		return 0
	}
	return float32(e.voteCount) / float32(e.windowLen)
}

// Recompute votedLabel as the plurality winner of the last HistorySize labels.
// Ties resolve to the label seen earliest in the window, which keeps the
// result deterministic.
func (e *trackedEntity) revote(historySize int) {
	n := min(e.history.Len(), historySize)
	start := e.history.Len() - n
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[e.history.Peek(start+i)]++
	}
	bestLabel := ""
	bestCount := 0
	for i := 0; i < n; i++ {
		label := e.history.Peek(start + i)
		if counts[label] > bestCount {
			bestCount = counts[label]
			bestLabel = label
		}
	}
	e.votedLabel = bestLabel
	e.voteCount = bestCount
	e.windowLen = n
}

type Tracker struct {
	log      logs.Log
	options  Options
	entities []*trackedEntity
	nextID   int64
	ringCap  int
}

func NewTracker(logger logs.Log, options *Options) (*Tracker, error) {
	if options == nil {
		options = DefaultOptions()
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		log:     logger,
		options: *options,
		// The ring stores at most capacity-1 items, so size for HistorySize+1
		ringCap: nextPowerOf2(options.HistorySize + 1),
	}, nil
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}

// A candidate match between an incoming detection and a live entity
type matchPair struct {
	det    int
	entity int
	iou    float32
}

// Process ingests one frame of detections and returns the current stable set.
// Entities whose vote stability is below MinStability are tracked but not
// reported. Malformed detections (empty label, degenerate box) are dropped.
func (t *Tracker) Process(detections []nn.Detection) []nn.Detection {
	valid := make([]nn.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Label == "" || d.Box.IsDegenerate() {
			if t.log != nil {
				t.log.Warnf("Tracker: dropping malformed detection (label '%v', box %vx%v)", d.Label, d.Box.Width, d.Box.Height)
			}
			continue
		}
		valid = append(valid, d)
	}

	// Spatial index on the current entity positions, so we only compute IoU
	// against entities that could plausibly overlap
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(t.entities))
	for _, e := range t.entities {
		fb.Add(e.box.X, e.box.Y, e.box.X2(), e.box.Y2())
	}
	fb.Finish()

	pairs := []matchPair{}
	nearby := []int{}
	for i, d := range valid {
		nearby = fb.SearchFast(d.Box.X, d.Box.Y, d.Box.X2(), d.Box.Y2(), nearby)
		for _, j := range nearby {
			iou := d.Box.IOU(t.entities[j].box)
			if iou > t.options.MatchIoU {
				pairs = append(pairs, matchPair{det: i, entity: j, iou: iou})
			}
		}
	}

	// Greedy one-to-one assignment, highest IoU first. This is deliberately
	// not a globally optimal assignment - greedy is plenty for the box counts
	// we see, and its behavior is easy to reason about.
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].iou > pairs[b].iou
	})
	detMatched := make([]bool, len(valid))
	entityMatched := make([]bool, len(t.entities))
	for _, p := range pairs {
		if detMatched[p.det] || entityMatched[p.entity] {
			continue
		}
		detMatched[p.det] = true
		entityMatched[p.entity] = true
		t.updateEntity(t.entities[p.entity], valid[p.det])
	}

	// Unmatched detections become new entities
	for i, d := range valid {
		if !detMatched[i] {
			t.entities = append(t.entities, t.newEntity(d))
		}
	}

	// Unmatched entities accumulate missed frames, and are removed once
	// they've been gone too long. A reappearing object becomes a brand-new
	// entity: we don't re-identify across a gap.
	remaining := make([]*trackedEntity, 0, len(t.entities))
	for j, e := range t.entities {
		if j < len(entityMatched) && !entityMatched[j] {
			e.framesMissed++
			if e.framesMissed > t.options.MissedFrameThreshold {
				if t.log != nil {
					t.log.Debugf("Tracker: entity %v '%v' removed after %v missed frames", e.id, e.votedLabel, e.framesMissed)
				}
				continue
			}
		}
		remaining = append(remaining, e)
	}
	t.entities = remaining

	return t.stableDetections()
}

func (t *Tracker) updateEntity(e *trackedEntity, d nn.Detection) {
	e.box = d.Box
	e.history.Add(d.Label)
	e.revote(t.options.HistorySize)
	w := t.options.ConfidenceEMA
	e.confidence = (1-w)*e.confidence + w*d.Confidence
	e.framesMissed = 0
	e.framesSeen++
}

func (t *Tracker) newEntity(d nn.Detection) *trackedEntity {
	t.nextID++
	e := &trackedEntity{
		id:         t.nextID,
		box:        d.Box,
		history:    ringbuffer.NewRingP[string](t.ringCap),
		confidence: d.Confidence,
		framesSeen: 1,
	}
	e.history.Add(d.Label)
	e.revote(t.options.HistorySize)
	return e
}

func (t *Tracker) stableDetections() []nn.Detection {
	out := []nn.Detection{}
	for _, e := range t.entities {
		if e.stability() >= t.options.MinStability {
			out = append(out, nn.Detection{
				Label:      e.votedLabel,
				Confidence: e.confidence,
				Box:        e.box,
			})
		}
	}
	return out
}

// Entities returns a snapshot of all live entities, including ones that are
// not yet stable enough to be reported by Process.
func (t *Tracker) Entities() []Entity {
	out := make([]Entity, 0, len(t.entities))
	for _, e := range t.entities {
		out = append(out, snapshotEntity(e))
	}
	return out
}

// Reset clears all tracked state. Use this when the caller knows the scene
// has completely changed, eg a new round of a game.
func (t *Tracker) Reset() {
	t.entities = nil
}

func snapshotEntity(e *trackedEntity) Entity {
	return Entity{
		ID:           e.id,
		Label:        e.votedLabel,
		Confidence:   e.confidence,
		Box:          e.box,
		Stability:    e.stability(),
		FramesSeen:   e.framesSeen,
		FramesMissed: e.framesMissed,
		Role:         e.role,
	}
}
