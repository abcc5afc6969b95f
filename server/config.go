package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cardsight/cardsight/pkg/knn"
	"github.com/cardsight/cardsight/pkg/track"
)

type Config struct {
	ModelConfigFile string         `json:"modelConfigFile"` // Path to the NN model's JSON config (classes, input size, logits mode)
	TrainDBFile     string         `json:"trainDBFile"`     // Path to the sqlite DB holding few-shot training samples
	NmsIouThreshold float32        `json:"nmsIouThreshold"` // Zero value will use the default
	Tracker         *track.Options `json:"tracker"`         // nil uses defaults
	Classifier      *knn.Options   `json:"classifier"`      // nil uses defaults
}

func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "cardsight.json"
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}
