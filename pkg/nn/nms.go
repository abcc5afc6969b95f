package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// Greedy class-aware Non-Maximum Suppression.
// We repeatedly keep the highest-confidence remaining detection, and discard
// every remaining detection of the same class whose IoU with it exceeds
// iouThreshold. Detections of different classes never suppress each other.
// The sort is stable, so equal confidences resolve in input order, which
// keeps the result deterministic.
// Output is ordered by descending confidence.
func NMS(detections []RawDetection, iouThreshold float32) []RawDetection {
	if len(detections) == 0 {
		return []RawDetection{}
	}
	if iouThreshold == 0 {
		iouThreshold = DefaultNmsIouThreshold
	}

	// Spatial index to avoid O(N^2) IoU comparisons
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(detections))
	for _, d := range detections {
		fb.Add(d.Box.X, d.Box.Y, d.Box.X2(), d.Box.Y2())
	}
	fb.Finish()

	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	suppressed := make([]bool, len(detections))
	kept := make([]RawDetection, 0, len(detections))
	overlapping := []int{}
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep := detections[i]
		kept = append(kept, keep)
		overlapping = fb.SearchFast(keep.Box.X, keep.Box.Y, keep.Box.X2(), keep.Box.Y2(), overlapping)
		for _, j := range overlapping {
			if j == i || suppressed[j] {
				continue
			}
			if detections[j].Class != keep.Class {
				continue
			}
			if keep.Box.IOU(detections[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
