package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type trainSampleRequest struct {
	Label     string    `json:"label"`
	Embedding []float32 `json:"embedding"`
}

func (s *Server) httpTrainAddSample(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := trainSampleRequest{}
	www.ReadJSON(w, r, &req, 8*1024*1024)
	if req.Label == "" || len(req.Embedding) == 0 {
		www.PanicBadRequestf("label and embedding are required")
	}
	// A dimension mismatch is swallowed (logged) by the classifier, matching
	// its fail-soft contract. Stats tell the caller whether the insert took.
	s.Classifier.AddSample(req.Embedding, req.Label)
	www.SendJSON(w, s.Classifier.Stats())
}

func (s *Server) httpTrainRemoveLabel(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	label := params.ByName("label")
	removed := s.Classifier.RemoveSamples(label)
	s.Log.Infof("Removed %v samples for label '%v'", removed, label)
	s.saveClassifier()
	www.SendJSON(w, s.Classifier.Stats())
}

func (s *Server) httpTrainReset(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.Classifier.Reset()
	s.Log.Infof("Classifier reset")
	s.saveClassifier()
	www.SendOK(w)
}

func (s *Server) httpTrainStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Classifier.Stats())
}

type predictRequest struct {
	Embedding []float32 `json:"embedding"`
}

func (s *Server) httpPredict(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := predictRequest{}
	www.ReadJSON(w, r, &req, 8*1024*1024)
	if len(req.Embedding) == 0 {
		www.PanicBadRequestf("embedding is required")
	}
	www.SendJSON(w, s.Classifier.Predict(req.Embedding))
}

// Removal and reset change the store in ways the auto-save counter doesn't
// see, so persist immediately
func (s *Server) saveClassifier() {
	if s.TrainDB == nil {
		return
	}
	if err := s.TrainDB.SaveSnapshot(s.Classifier.Snapshot()); err != nil {
		s.Log.Errorf("Failed to save training samples: %v", err)
	}
}
