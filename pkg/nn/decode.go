package nn

import (
	"errors"

	"github.com/chewxy/math32"
)

// Decoding of the raw YOLO output tensor.
// The tensor is a flat float32 buffer of shape [1, F, B] or [1, B, F],
// where F = numClasses + 4 (cx, cy, width, height, then one score per class),
// and B is the number of box slots (eg 8400 for a 640x640 yolov8).

var ErrShapeMismatch = errors.New("tensor shape does not match numClasses + 4 in either orientation")
var ErrBufferTooSmall = errors.New("tensor buffer is smaller than its declared shape")

// DecodeParams configures DecodeTensor for a particular model
type DecodeParams struct {
	NumClasses          int
	ConfidenceThreshold float32 // Boxes with a max class score below this are discarded. Zero value will use the default.
	InputSize           float32 // NN input resolution, eg 640. Box coordinates in the tensor are pixels relative to this.
	RawLogits           bool    // True if class scores are logits that need a sigmoid
}

func NewDecodeParams(numClasses int, inputSize float32) *DecodeParams {
	return &DecodeParams{
		NumClasses:          numClasses,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		InputSize:           inputSize,
	}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// DecodeTensor parses a raw model output buffer into a list of candidate detections.
// Malformed input is not an operational failure: we return an empty list together
// with a diagnostic error, and the caller logs it and carries on with the next frame.
func DecodeTensor(buffer []float32, shape [3]int, params *DecodeParams) ([]RawDetection, error) {
	if params.NumClasses <= 0 || params.InputSize <= 0 {
		return nil, errors.New("DecodeParams requires NumClasses > 0 and InputSize > 0")
	}
	threshold := params.ConfidenceThreshold
	if threshold == 0 {
		threshold = DefaultConfidenceThreshold
	}
	nFeatures := params.NumClasses + 4

	// Figure out which of the two non-batch dimensions is the feature dimension
	var numBoxes int
	featureMajor := false
	switch {
	case shape[1] == nFeatures:
		featureMajor = true
		numBoxes = shape[2]
	case shape[2] == nFeatures:
		numBoxes = shape[1]
	default:
		return nil, ErrShapeMismatch
	}
	if numBoxes <= 0 || len(buffer) < nFeatures*numBoxes {
		return nil, ErrBufferTooSmall
	}

	// at(f, b) reads feature f of box slot b
	var at func(f, b int) float32
	if featureMajor {
		at = func(f, b int) float32 { return buffer[f*numBoxes+b] }
	} else {
		at = func(f, b int) float32 { return buffer[b*nFeatures+f] }
	}

	detections := []RawDetection{}
	for b := 0; b < numBoxes; b++ {
		// Sigmoid is monotonic, so the argmax over raw logits is the argmax
		// over probabilities. We only pay for one sigmoid per box.
		bestClass := 0
		bestScore := float32(-math32.MaxFloat32)
		for c := 0; c < params.NumClasses; c++ {
			score := at(4+c, b)
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if params.RawLogits {
			bestScore = sigmoid(bestScore)
		}
		if bestScore < threshold {
			continue
		}

		cx := at(0, b) / params.InputSize
		cy := at(1, b) / params.InputSize
		w := at(2, b) / params.InputSize
		h := at(3, b) / params.InputSize
		if cx < 0 || cx > 1 || cy < 0 || cy > 1 {
			continue
		}
		box := Rect{
			X:      cx - w/2,
			Y:      cy - h/2,
			Width:  w,
			Height: h,
		}
		if box.IsDegenerate() {
			continue
		}
		detections = append(detections, RawDetection{
			Class:      bestClass,
			Confidence: bestScore,
			Box:        box,
		})
	}
	return detections, nil
}
