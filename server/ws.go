package server

import (
	"net/http"

	"github.com/cardsight/cardsight/pkg/nn"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// One inbound frame on the session websocket. If Raw is set, the payload is
// a model output tensor that we decode and NMS before tracking. Otherwise
// Detections is taken as-is (the client has already done NMS).
type wsFrame struct {
	Raw        []float32      `json:"raw,omitempty"`
	Shape      [3]int         `json:"shape,omitempty"`
	Detections []nn.Detection `json:"detections,omitempty"`
}

type wsResult struct {
	Stable []nn.Detection `json:"stable"`
	Error  string         `json:"error,omitempty"`
}

// httpSessionStream runs a tracking session over a websocket. The client
// sends one wsFrame per video frame and receives the stable entities after
// each. Frame ordering is guaranteed by the socket, so this is the
// preferred transport for live streams (the POST endpoint leaves ordering
// to the caller).
func (s *Server) httpSessionStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.getSession(params.ByName("id"))

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpSessionStream websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	s.Log.Infof("httpSessionStream starting for session '%v'", params.ByName("id"))

	for {
		frame := wsFrame{}
		if err := c.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Log.Warnf("httpSessionStream read failed: %v", err)
			}
			break
		}

		detections := frame.Detections
		result := wsResult{}
		if len(frame.Raw) != 0 {
			decodeParams := nn.NewDecodeParams(len(s.ModelCfg.Classes), float32(s.ModelCfg.InputSize))
			decodeParams.RawLogits = s.ModelCfg.RawLogits
			raw, err := nn.DecodeTensor(frame.Raw, frame.Shape, decodeParams)
			if err != nil {
				// A bad tensor poisons one frame, not the session
				result.Error = err.Error()
				raw = nil
			}
			detections = nil
			for _, d := range nn.NMS(raw, s.config.NmsIouThreshold) {
				detections = append(detections, d.ToDetection(s.ModelCfg.Classes))
			}
		}

		sess.lock.Lock()
		result.Stable = sess.tracker.Process(detections)
		sess.lock.Unlock()

		if err := c.WriteJSON(&result); err != nil {
			s.Log.Warnf("httpSessionStream write failed: %v", err)
			break
		}
	}

	s.Log.Infof("httpSessionStream closed for session '%v'", params.ByName("id"))
}
