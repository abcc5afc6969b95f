package knn

// Snapshot is the serializable state of a classifier. The classifier itself
// performs no I/O: an external persistence layer (eg server/traindb) writes
// and reads snapshots.
type Snapshot struct {
	K                   int      `json:"k"`
	ConfidenceThreshold float32  `json:"confidenceThreshold"`
	MaxSamplesPerClass  int      `json:"maxSamplesPerClass"`
	Samples             []Sample `json:"samples"`
}

// Snapshot returns a deep copy of the classifier state
func (c *Classifier) Snapshot() *Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.snapshotLocked()
}

// Must be holding 'lock'
func (c *Classifier) snapshotLocked() *Snapshot {
	samples := make([]Sample, len(c.samples))
	for i, s := range c.samples {
		emb := make([]float32, len(s.Embedding))
		copy(emb, s.Embedding)
		samples[i] = Sample{Embedding: emb, Label: s.Label}
	}
	return &Snapshot{
		K:                   c.options.K,
		ConfidenceThreshold: c.options.ConfidenceThreshold,
		MaxSamplesPerClass:  c.options.MaxSamplesPerClass,
		Samples:             samples,
	}
}

// RestoreSnapshot replaces the classifier's samples with the snapshot's,
// preserving their order (which is what FIFO eviction keys off). Samples
// whose dimension disagrees with the snapshot's first sample are logged and
// skipped, mirroring AddSample's fail-soft behavior.
func (c *Classifier) RestoreSnapshot(snapshot *Snapshot) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.samples = nil
	c.dimension = 0
	c.insertsSinceSave = 0
	for _, s := range snapshot.Samples {
		if s.Label == "" || len(s.Embedding) == 0 {
			continue
		}
		if c.dimension == 0 {
			c.dimension = len(s.Embedding)
		} else if len(s.Embedding) != c.dimension {
			if c.log != nil {
				c.log.Warnf("KNN: skipping snapshot sample for '%v': dimension %v != %v", s.Label, len(s.Embedding), c.dimension)
			}
			continue
		}
		emb := make([]float32, len(s.Embedding))
		copy(emb, s.Embedding)
		c.samples = append(c.samples, Sample{Embedding: emb, Label: s.Label})
	}
}
