package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func det(class int, confidence float32, x, y, w, h float32) RawDetection {
	return RawDetection{
		Class:      class,
		Confidence: confidence,
		Box:        Rect{X: x, Y: y, Width: w, Height: h},
	}
}

func TestNMSSuppressesSameClass(t *testing.T) {
	input := []RawDetection{
		det(5, 0.6, 0.41, 0.41, 0.2, 0.2), // mostly overlaps the winner
		det(5, 0.9, 0.4, 0.4, 0.2, 0.2),
		det(5, 0.8, 0.75, 0.75, 0.2, 0.2), // far away, survives
	}
	kept := NMS(input, 0.45)
	require.Len(t, kept, 2)
	require.Equal(t, float32(0.9), kept[0].Confidence)
	require.Equal(t, float32(0.8), kept[1].Confidence)
}

func TestNMSClassIsolation(t *testing.T) {
	// Identical boxes, different classes: both survive
	input := []RawDetection{
		det(5, 0.9, 0.4, 0.4, 0.2, 0.2),
		det(6, 0.8, 0.4, 0.4, 0.2, 0.2),
	}
	kept := NMS(input, 0.45)
	require.Len(t, kept, 2)
}

func TestNMSIdempotent(t *testing.T) {
	input := []RawDetection{
		det(5, 0.9, 0.4, 0.4, 0.2, 0.2),
		det(5, 0.6, 0.41, 0.41, 0.2, 0.2),
		det(7, 0.8, 0.4, 0.4, 0.2, 0.2),
		det(5, 0.85, 0.1, 0.1, 0.15, 0.15),
	}
	once := NMS(input, 0.45)
	twice := NMS(once, 0.45)
	require.Equal(t, once, twice)
}

func TestNMSStableTieBreak(t *testing.T) {
	// Equal confidence, heavy overlap: the one earlier in the input wins
	a := det(5, 0.7, 0.4, 0.4, 0.2, 0.2)
	b := det(5, 0.7, 0.41, 0.41, 0.2, 0.2)
	kept := NMS([]RawDetection{a, b}, 0.45)
	require.Len(t, kept, 1)
	require.Equal(t, a, kept[0])
}

func TestNMSEmpty(t *testing.T) {
	require.Empty(t, NMS(nil, 0.45))
	require.Empty(t, NMS([]RawDetection{}, 0.45))
}
