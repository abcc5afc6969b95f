package server

import (
	"errors"
	"net/http"

	"github.com/cardsight/cardsight/pkg/nn"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type decodeRequest struct {
	Buffer              []float32 `json:"buffer"`
	Shape               [3]int    `json:"shape"`
	ConfidenceThreshold float32   `json:"confidenceThreshold"` // Zero value will use the default
}

type decodeResponse struct {
	Detections []nn.Detection `json:"detections"`
	Diagnostic string         `json:"diagnostic,omitempty"` // Set when the tensor was malformed and yielded nothing
}

// Decode a raw output tensor into labeled, NMS-suppressed detections.
// The model's class count, input size, and logits mode come from the model
// config, which the caller can inspect via /api/model.
func (s *Server) httpDecode(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := decodeRequest{}
	www.ReadJSON(w, r, &req, 64*1024*1024)

	decodeParams := nn.NewDecodeParams(len(s.ModelCfg.Classes), float32(s.ModelCfg.InputSize))
	decodeParams.RawLogits = s.ModelCfg.RawLogits
	if req.ConfidenceThreshold != 0 {
		decodeParams.ConfidenceThreshold = req.ConfidenceThreshold
	}

	resp := decodeResponse{Detections: []nn.Detection{}}
	raw, err := nn.DecodeTensor(req.Buffer, req.Shape, decodeParams)
	if err != nil {
		// A malformed tensor is a data problem, not a request problem: log it
		// and return the empty frame, matching how the rest of the pipeline
		// treats bad frames
		if errors.Is(err, nn.ErrShapeMismatch) || errors.Is(err, nn.ErrBufferTooSmall) {
			s.Log.Warnf("Decode failed: %v (shape %v)", err, req.Shape)
			resp.Diagnostic = err.Error()
			www.SendJSON(w, &resp)
			return
		}
		www.PanicBadRequestf("%v", err)
	}

	kept := nn.NMS(raw, s.config.NmsIouThreshold)
	for _, d := range kept {
		resp.Detections = append(resp.Detections, d.ToDetection(s.ModelCfg.Classes))
	}
	www.SendJSON(w, &resp)
}
