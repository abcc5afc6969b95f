// Package nn is the detection interface layer.
// It turns raw model output into discrete detections, and defines the types
// that flow through the rest of the pipeline (tracker, classifier, server).
package nn

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

const DefaultConfidenceThreshold = 0.25
const DefaultNmsIouThreshold = 0.45

// Boxes narrower/shorter than this (normalized) are treated as decoder noise
const MinBoxSize = 0.01

// RawDetection is a single box straight out of the decoder, before any
// class names have been attached.
type RawDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Detection is an object that the pipeline has found in a frame.
// This is the sole contract with downstream interpreters - the pipeline
// attaches no meaning to the label string.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Attach the class name from 'classes' to a raw detection.
// An out of range class index yields an empty label, which the tracker discards.
func (r RawDetection) ToDetection(classes []string) Detection {
	label := ""
	if r.Class >= 0 && r.Class < len(classes) {
		label = classes[r.Class]
	}
	return Detection{
		Label:      label,
		Confidence: r.Confidence,
		Box:        r.Box,
	}
}

// VideoLabels contains detections for each frame of a clip
type VideoLabels struct {
	Classes []string       `json:"classes"`
	Frames  []*FrameLabels `json:"frames"`
}

type FrameLabels struct {
	Frame   int            `json:"frame,omitempty"`
	Objects []RawDetection `json:"objects"`
}

// ModelConfig is saved in a JSON file along with the weights of the NN model.
// Different models disagree on whether class scores are probabilities or raw
// logits, so that is recorded here rather than guessed at decode time.
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	InputSize    int      `json:"inputSize"`    // eg 640
	RawLogits    bool     `json:"rawLogits"`    // true if class scores need a sigmoid
	Classes      []string `json:"classes"`      // eg ["10c", "10d", ...]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, nil
}
