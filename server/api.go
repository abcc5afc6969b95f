package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupRoutes() *httprouter.Router {
	router := httprouter.New()

	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// Training mutates the sample store and triggers DB writes, so we rate
	// limit it. One limiter per endpoint is fine at our call volumes.
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	unprotected("GET", "/api/ping", s.httpPing)
	unprotected("GET", "/api/model", s.httpModel)

	unprotected("POST", "/api/decode", s.httpDecode)

	unprotected("POST", "/api/session/:id/process", s.httpSessionProcess)
	unprotected("POST", "/api/session/:id/reset", s.httpSessionReset)
	unprotected("GET", "/api/session/:id/entities", s.httpSessionEntities)
	unprotected("GET", "/api/session/:id/primary", s.httpSessionPrimary)
	unprotected("GET", "/api/ws/session/:id", s.httpSessionStream)

	ratelimited("POST", "/api/train/sample", s.httpTrainAddSample, 50, time.Second)
	ratelimited("DELETE", "/api/train/label/:label", s.httpTrainRemoveLabel, 5, time.Second)
	ratelimited("POST", "/api/train/reset", s.httpTrainReset, 1, time.Second)
	unprotected("GET", "/api/train/stats", s.httpTrainStats)
	unprotected("POST", "/api/predict", s.httpPredict)

	return router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendText(w, "ping")
}

func (s *Server) httpModel(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.ModelCfg)
}
