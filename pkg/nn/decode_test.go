package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// Fill box slot 'b' of a feature-major [1,F,B] buffer
func setBoxSlot(buffer []float32, numBoxes, b int, cx, cy, w, h float32, classScores map[int]float32) {
	buffer[0*numBoxes+b] = cx
	buffer[1*numBoxes+b] = cy
	buffer[2*numBoxes+b] = w
	buffer[3*numBoxes+b] = h
	for class, score := range classScores {
		buffer[(4+class)*numBoxes+b] = score
	}
}

func TestDecodeFeatureMajor(t *testing.T) {
	numClasses := 52
	numBoxes := 10
	buffer := make([]float32, (numClasses+4)*numBoxes)
	// logit(0.81) ~= 1.45. Every other slot stays at logit 0, which is
	// probability 0.5 after sigmoid - below the threshold we pass in
	setBoxSlot(buffer, numBoxes, 3, 320, 240, 64, 96, map[int]float32{5: 1.45})

	params := NewDecodeParams(numClasses, 640)
	params.RawLogits = true
	params.ConfidenceThreshold = 0.6
	dets, err := DecodeTensor(buffer, [3]int{1, numClasses + 4, numBoxes}, params)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, 5, dets[0].Class)
	require.InDelta(t, 0.81, dets[0].Confidence, 0.005)
	require.InDelta(t, 0.1, dets[0].Box.Width, 1e-5)
	require.InDelta(t, 0.15, dets[0].Box.Height, 1e-5)
	require.InDelta(t, 0.5, dets[0].Box.Center().X, 1e-5)
	require.InDelta(t, 0.375, dets[0].Box.Center().Y, 1e-5)
}

func TestDecodeBoxMajor(t *testing.T) {
	numClasses := 4
	numBoxes := 3
	nFeatures := numClasses + 4
	buffer := make([]float32, numBoxes*nFeatures)
	// Scores already probabilities, shape [1, B, F]
	slot := buffer[1*nFeatures:]
	slot[0] = 100 // cx
	slot[1] = 100 // cy
	slot[2] = 40  // w
	slot[3] = 40  // h
	slot[4+2] = 0.9

	params := NewDecodeParams(numClasses, 200)
	dets, err := DecodeTensor(buffer, [3]int{1, numBoxes, nFeatures}, params)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, 2, dets[0].Class)
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-5)
	require.InDelta(t, 0.2, dets[0].Box.Width, 1e-5)
}

func TestDecodeShapeMismatch(t *testing.T) {
	params := NewDecodeParams(52, 640)
	dets, err := DecodeTensor(make([]float32, 100), [3]int{1, 10, 10}, params)
	require.True(t, errors.Is(err, ErrShapeMismatch))
	require.Empty(t, dets)
}

func TestDecodeRejectsJunkBoxes(t *testing.T) {
	numClasses := 4
	numBoxes := 4
	buffer := make([]float32, (numClasses+4)*numBoxes)
	// Degenerate: 1 pixel wide at 640 input => 0.0016 normalized
	setBoxSlot(buffer, numBoxes, 0, 320, 240, 1, 96, map[int]float32{0: 0.95})
	// Center outside the frame
	setBoxSlot(buffer, numBoxes, 1, 900, 240, 64, 96, map[int]float32{1: 0.95})
	// Larger than the frame
	setBoxSlot(buffer, numBoxes, 2, 320, 240, 900, 96, map[int]float32{2: 0.95})
	// Good box
	setBoxSlot(buffer, numBoxes, 3, 320, 240, 64, 96, map[int]float32{3: 0.95})

	params := NewDecodeParams(numClasses, 640)
	dets, err := DecodeTensor(buffer, [3]int{1, numClasses + 4, numBoxes}, params)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, 3, dets[0].Class)
}
