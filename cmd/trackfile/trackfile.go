package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cardsight/cardsight/pkg/nn"
	"github.com/cardsight/cardsight/pkg/stats"
	"github.com/cardsight/cardsight/pkg/track"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Run the tracker over a pre-labeled video file, so that tracking parameters
// can be tuned offline without a live camera feed.
func main() {
	parser := argparse.NewParser("trackfile", "Run detection stabilization over a label file")
	input := parser.String("i", "input", &argparse.Options{Help: "Input label file (JSON, one detection list per frame)", Required: true})
	nmsIoU := parser.Float("", "nms", &argparse.Options{Help: "NMS IoU threshold", Default: float64(nn.DefaultNmsIouThreshold)})
	matchIoU := parser.Float("", "match", &argparse.Options{Help: "Tracker match IoU threshold", Default: float64(track.DefaultMatchIoU)})
	minStability := parser.Float("", "stability", &argparse.Options{Help: "Minimum stability before an entity is reported", Default: float64(track.DefaultMinStability)})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Print stable detections for every frame", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	raw, err := os.ReadFile(*input)
	check(err)
	videoLabels := nn.VideoLabels{}
	check(json.Unmarshal(raw, &videoLabels))
	if len(videoLabels.Classes) == 0 {
		videoLabels.Classes = nn.CardClasses
	}

	options := track.DefaultOptions()
	options.MatchIoU = float32(*matchIoU)
	options.MinStability = float32(*minStability)
	tracker, err := track.NewTracker(logger, options)
	check(err)

	stableCounts := []int{}
	for _, frame := range videoLabels.Frames {
		kept := nn.NMS(frame.Objects, float32(*nmsIoU))
		detections := make([]nn.Detection, 0, len(kept))
		for _, d := range kept {
			detections = append(detections, d.ToDetection(videoLabels.Classes))
		}
		stable := tracker.Process(detections)
		stableCounts = append(stableCounts, len(stable))
		if *verbose {
			labels := make([]string, 0, len(stable))
			for _, d := range stable {
				labels = append(labels, fmt.Sprintf("%v (%.2f)", d.Label, d.Confidence))
			}
			fmt.Printf("frame %5d: %v\n", frame.Frame, strings.Join(labels, ", "))
		}
	}

	mean, variance := stats.MeanVar(stableCounts)
	fmt.Printf("%v frames, stable detections per frame: mean %.2f, variance %.2f\n", len(videoLabels.Frames), mean, variance)
	fmt.Printf("surviving entities:\n")
	for _, e := range tracker.Entities() {
		fmt.Printf("  #%-4d %-4s stability %.2f, seen %v frames\n", e.ID, e.Label, e.Stability, e.FramesSeen)
	}
}
