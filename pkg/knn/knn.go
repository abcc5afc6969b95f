// Package knn is an on-device few-shot classifier: a memory-bounded store of
// labeled embeddings, and an exact k-nearest-neighbor lookup over them with
// cosine distance. The store is small by construction (MaxSamplesPerClass per
// label), so a linear scan per query is the right tool - an approximate index
// would add failure modes without buying anything at this scale.
//
// Training (AddSample) and prediction run concurrently in a live system -
// the camera loop predicts while the user adds samples - so all state is
// guarded by a single mutex. Every operation under the lock is a bounded,
// CPU-only computation.
package knn

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
)

// UnknownLabel is returned by Predict when no trained class is a credible match
const UnknownLabel = "unknown"

const DefaultK = 3
const DefaultConfidenceThreshold = 0.6
const DefaultMaxSamplesPerClass = 100

// A nearest neighbor must be closer than this (cosine distance) for any
// prediction to be credible. 0.4 is empirical - around the point where
// embeddings stop resembling each other.
const DefaultMaxKnownDistance = 0.4

// With only one trained class, a match is meaningless unless it's extremely
// close, so we demand half the usual distance.
const DefaultSingleClassDistance = 0.2

type Options struct {
	K                   int     // Number of neighbors to consult
	ConfidenceThreshold float32 // Minimum confidence for a prediction to be considered known
	MaxSamplesPerClass  int     // Oldest samples beyond this per-class count are evicted
	MaxKnownDistance    float32 // Nearest-neighbor distance beyond which confidence falls to zero
	SingleClassDistance float32 // Stricter distance bound that applies when only one class is trained
	AutoSaveInterval    int     // Fire OnAutoSave after this many inserts (0 = never)
}

func DefaultOptions() *Options {
	return &Options{
		K:                   DefaultK,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MaxSamplesPerClass:  DefaultMaxSamplesPerClass,
		MaxKnownDistance:    DefaultMaxKnownDistance,
		SingleClassDistance: DefaultSingleClassDistance,
	}
}

func (o *Options) validate() error {
	if o.K <= 0 {
		return errors.New("K must be > 0")
	}
	if o.MaxSamplesPerClass <= 0 {
		return errors.New("MaxSamplesPerClass must be > 0")
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("ConfidenceThreshold %v is outside [0,1]", o.ConfidenceThreshold)
	}
	if o.MaxKnownDistance <= 0 {
		return errors.New("MaxKnownDistance must be > 0")
	}
	if o.SingleClassDistance <= 0 || o.SingleClassDistance > o.MaxKnownDistance {
		return errors.New("SingleClassDistance must be in (0, MaxKnownDistance]")
	}
	if o.AutoSaveInterval < 0 {
		return errors.New("AutoSaveInterval must be >= 0")
	}
	return nil
}

// Sample is one labeled embedding. Samples are never mutated after insertion.
type Sample struct {
	Embedding []float32 `json:"embedding"`
	Label     string    `json:"label"`
}

type Neighbor struct {
	Label    string  `json:"label"`
	Distance float32 `json:"distance"`
}

// Result of a single prediction
type Result struct {
	Label      string             `json:"label"`
	Confidence float32            `json:"confidence"`
	IsKnown    bool               `json:"isKnown"`
	AllScores  map[string]float32 `json:"allScores"`
	Neighbors  []Neighbor         `json:"neighbors"` // The k nearest, closest first
}

type Stats struct {
	TrainedClasses  []string       `json:"trainedClasses"` // Sorted
	SamplesPerClass map[string]int `json:"samplesPerClass"`
	TotalSamples    int            `json:"totalSamples"`
}

type Classifier struct {
	// OnAutoSave, if set, is called with a fresh snapshot every
	// AutoSaveInterval inserts. It runs outside the classifier lock, so the
	// callback is free to do I/O. Set it before serving traffic.
	OnAutoSave func(*Snapshot)

	log     logs.Log
	options Options

	lock             sync.Mutex
	samples          []Sample
	dimension        int // Fixed by the first inserted sample; 0 until then
	insertsSinceSave int
}

func NewClassifier(logger logs.Log, options *Options) (*Classifier, error) {
	if options == nil {
		options = DefaultOptions()
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		log:     logger,
		options: *options,
	}, nil
}

// AddSample stores one labeled embedding. The first sample fixes the
// embedding dimensionality for the lifetime of the classifier; a sample of
// any other dimension is logged and ignored. This is interactive on-device
// training, so we fail soft rather than propagate an error into the UI loop.
func (c *Classifier) AddSample(embedding []float32, label string) {
	if label == "" || len(embedding) == 0 {
		if c.log != nil {
			c.log.Warnf("KNN: ignoring sample with empty label or embedding")
		}
		return
	}
	var snapshot *Snapshot
	c.lock.Lock()
	if c.dimension == 0 {
		c.dimension = len(embedding)
	} else if len(embedding) != c.dimension {
		c.lock.Unlock()
		if c.log != nil {
			c.log.Warnf("KNN: ignoring sample for '%v': dimension %v != %v", label, len(embedding), c.dimension)
		}
		return
	}
	emb := make([]float32, len(embedding))
	copy(emb, embedding)
	c.samples = append(c.samples, Sample{Embedding: emb, Label: label})
	c.evictOverflow(label)
	c.insertsSinceSave++
	if c.options.AutoSaveInterval > 0 && c.insertsSinceSave >= c.options.AutoSaveInterval && c.OnAutoSave != nil {
		c.insertsSinceSave = 0
		snapshot = c.snapshotLocked()
	}
	c.lock.Unlock()
	if snapshot != nil {
		c.OnAutoSave(snapshot)
	}
}

// Evict the oldest samples of 'label' until it's back within
// MaxSamplesPerClass. Eviction is purely insertion-order FIFO.
// Must be holding 'lock'.
func (c *Classifier) evictOverflow(label string) {
	count := 0
	for _, s := range c.samples {
		if s.Label == label {
			count++
		}
	}
	excess := count - c.options.MaxSamplesPerClass
	if excess <= 0 {
		return
	}
	kept := c.samples[:0]
	for _, s := range c.samples {
		if excess > 0 && s.Label == label {
			excess--
			continue
		}
		kept = append(kept, s)
	}
	c.samples = kept
}

// RemoveSamples deletes all samples with the given label, and returns how
// many were removed.
func (c *Classifier) RemoveSamples(label string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	kept := c.samples[:0]
	removed := 0
	for _, s := range c.samples {
		if s.Label == label {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	c.samples = kept
	return removed
}

// Reset clears all samples. The next inserted sample re-fixes the dimension.
func (c *Classifier) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.samples = nil
	c.dimension = 0
	c.insertsSinceSave = 0
}

func (c *Classifier) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	perClass := map[string]int{}
	for _, s := range c.samples {
		perClass[s.Label]++
	}
	classes := make([]string, 0, len(perClass))
	for label := range perClass {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	return Stats{
		TrainedClasses:  classes,
		SamplesPerClass: perClass,
		TotalSamples:    len(c.samples),
	}
}

type scoredSample struct {
	index    int
	distance float32
}

// Predict classifies the query embedding against the stored samples.
// It never fails: an empty store, or a query that doesn't credibly match any
// trained class, yields the "unknown" result. The raw confidence and scores
// are preserved in that case for diagnostics.
func (c *Classifier) Predict(embedding []float32) Result {
	c.lock.Lock()
	defer c.lock.Unlock()

	empty := Result{
		Label:     UnknownLabel,
		AllScores: map[string]float32{},
		Neighbors: []Neighbor{},
	}
	if len(c.samples) == 0 {
		return empty
	}
	if len(embedding) != c.dimension {
		if c.log != nil {
			c.log.Warnf("KNN: query dimension %v != %v", len(embedding), c.dimension)
		}
		return empty
	}

	scored := make([]scoredSample, len(c.samples))
	for i, s := range c.samples {
		scored[i] = scoredSample{index: i, distance: cosineDistance(embedding, s.Embedding)}
	}
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].distance != scored[b].distance {
			return scored[a].distance < scored[b].distance
		}
		return scored[a].index < scored[b].index
	})
	k := min(c.options.K, len(scored))
	nearest := scored[:k]

	// Similarity-weighted voting among the k neighbors
	votes := map[string]float32{}
	totalWeight := float32(0)
	neighbors := make([]Neighbor, 0, k)
	for _, s := range nearest {
		label := c.samples[s.index].Label
		neighbors = append(neighbors, Neighbor{Label: label, Distance: s.distance})
		weight := max(0, 1-s.distance)
		votes[label] += weight
		totalWeight += weight
	}
	allScores := map[string]float32{}
	topLabel := ""
	topScore := float32(0)
	if totalWeight > 0 {
		for label, weight := range votes {
			allScores[label] = weight / totalWeight
		}
		// Deterministic winner: highest score, ties broken by nearest neighbor order
		for _, nb := range neighbors {
			if allScores[nb.Label] > topScore {
				topScore = allScores[nb.Label]
				topLabel = nb.Label
			}
		}
	}

	// Confidence blends neighbor agreement with absolute distance: agreement
	// among neighbors means nothing if even the best of them is far away.
	nearestDistance := nearest[0].distance
	distanceFactor := max(0, 1-nearestDistance/c.options.MaxKnownDistance)
	confidence := topScore * distanceFactor

	numClasses := 0
	seen := map[string]bool{}
	for _, s := range c.samples {
		if !seen[s.Label] {
			seen[s.Label] = true
			numClasses++
		}
	}
	isKnown := confidence >= c.options.ConfidenceThreshold &&
		nearestDistance < c.options.MaxKnownDistance &&
		(numClasses >= 2 || nearestDistance < c.options.SingleClassDistance)

	label := topLabel
	if !isKnown {
		label = UnknownLabel
	}
	return Result{
		Label:      label,
		Confidence: confidence,
		IsKnown:    isKnown,
		AllScores:  allScores,
		Neighbors:  neighbors,
	}
}

// Cosine distance = 1 - cosine similarity. Range [0,2].
// A zero-magnitude vector has no direction, so we call it maximally distant.
func cosineDistance(a, b []float32) float32 {
	dot := float32(0)
	normA := float32(0)
	normB := float32(0)
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math32.Sqrt(normA)*math32.Sqrt(normB))
}
