package server

import (
	"net/http"

	"github.com/cardsight/cardsight/pkg/nn"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type processRequest struct {
	Detections []nn.Detection `json:"detections"`
}

type processResponse struct {
	Stable []nn.Detection `json:"stable"`
}

// Feed one frame of detections into the session's tracker
func (s *Server) httpSessionProcess(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := processRequest{}
	www.ReadJSON(w, r, &req, 8*1024*1024)
	sess := s.getSession(params.ByName("id"))
	sess.lock.Lock()
	stable := sess.tracker.Process(req.Detections)
	sess.lock.Unlock()
	www.SendJSON(w, &processResponse{Stable: stable})
}

func (s *Server) httpSessionReset(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.getSession(params.ByName("id"))
	sess.lock.Lock()
	sess.tracker.Reset()
	sess.lock.Unlock()
	www.SendOK(w)
}

func (s *Server) httpSessionEntities(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess := s.getSession(params.ByName("id"))
	sess.lock.Lock()
	entities := sess.tracker.Entities()
	sess.lock.Unlock()
	www.SendJSON(w, entities)
}

// Spatial zones that a client can ask PrimaryGroup to filter by. The domain
// meaning ("my hole cards are at the bottom of the frame") lives entirely in
// the client's choice of zone.
var zonePredicates = map[string]func(box nn.Rect) bool{
	"":       nil,
	"all":    nil,
	"top":    func(box nn.Rect) bool { return box.Center().Y < 0.5 },
	"bottom": func(box nn.Rect) bool { return box.Center().Y >= 0.5 },
	"left":   func(box nn.Rect) bool { return box.Center().X < 0.5 },
	"right":  func(box nn.Rect) bool { return box.Center().X >= 0.5 },
}

// GET /api/session/:id/primary?k=2&zone=bottom
func (s *Server) httpSessionPrimary(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	k := www.QueryInt(r, "k")
	if k <= 0 {
		www.PanicBadRequestf("k must be > 0")
	}
	zone := www.QueryValue(r, "zone")
	predicate, ok := zonePredicates[zone]
	if !ok {
		www.PanicBadRequestf("Unknown zone '%v'", zone)
	}
	sess := s.getSession(params.ByName("id"))
	sess.lock.Lock()
	group := sess.tracker.PrimaryGroup(k, predicate)
	sess.lock.Unlock()
	www.SendJSON(w, group)
}
