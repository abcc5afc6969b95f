package server

// The cardsight server is the bridge between an inference provider (the
// process running the camera and the NN) and the stabilization pipeline.
// Raw tensors or per-frame detections come in over HTTP/websocket, stable
// tracked entities and few-shot predictions go out.

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/cardsight/cardsight/pkg/knn"
	"github.com/cardsight/cardsight/pkg/nn"
	"github.com/cardsight/cardsight/pkg/track"
	"github.com/cardsight/cardsight/server/traindb"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

type Server struct {
	Log        logs.Log
	ModelCfg   *nn.ModelConfig
	Classifier *knn.Classifier
	TrainDB    *traindb.TrainDB

	config     *Config
	wsUpgrader websocket.Upgrader

	sessionsLock sync.Mutex
	sessions     map[string]*session
}

// A session is one logical detection stream (eg one game round on one
// device). The tracker itself has no locking, so each session carries its
// own lock to enforce the single-writer discipline.
type session struct {
	lock    sync.Mutex
	tracker *track.Tracker
}

func NewServer(logger logs.Log, cfg *Config) (*Server, error) {
	modelCfg, err := nn.LoadModelConfig(cfg.ModelConfigFile)
	if err != nil {
		return nil, fmt.Errorf("Failed to load model config: %w", err)
	}

	if len(modelCfg.Classes) == 0 {
		modelCfg.Classes = nn.CardClasses
	}

	if cfg.NmsIouThreshold == 0 {
		cfg.NmsIouThreshold = nn.DefaultNmsIouThreshold
	}

	classifier, err := knn.NewClassifier(logger, cfg.Classifier)
	if err != nil {
		return nil, err
	}

	// Validate tracker options up front, so a bad config fails at startup
	// instead of on the first session
	if _, err := track.NewTracker(logger, cfg.Tracker); err != nil {
		return nil, err
	}

	s := &Server{
		Log:        logger,
		ModelCfg:   modelCfg,
		Classifier: classifier,
		config:     cfg,
		sessions:   map[string]*session{},
	}

	if cfg.TrainDBFile != "" {
		db, err := traindb.Open(logger, cfg.TrainDBFile)
		if err != nil {
			return nil, err
		}
		s.TrainDB = db
		samples, err := db.LoadSamples()
		if err != nil {
			return nil, fmt.Errorf("Failed to load training samples: %w", err)
		}
		classifier.RestoreSnapshot(&knn.Snapshot{Samples: samples})
		logger.Infof("Loaded %v training samples from %v", len(samples), cfg.TrainDBFile)
		classifier.OnAutoSave = func(snapshot *knn.Snapshot) {
			if err := db.SaveSnapshot(snapshot); err != nil {
				logger.Errorf("Auto-save of training samples failed: %v", err)
			}
		}
	}

	return s, nil
}

// Fetch or create the session with the given id
func (s *Server) getSession(id string) *session {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	if existing := s.sessions[id]; existing != nil {
		return existing
	}
	// Options were validated in NewServer, so this cannot fail
	tracker, err := track.NewTracker(s.Log, s.config.Tracker)
	if err != nil {
		panic(err)
	}
	sess := &session{tracker: tracker}
	s.sessions[id] = sess
	s.Log.Infof("New tracking session '%v'", id)
	return sess
}

func (s *Server) ListenAndServe(port string) error {
	router := s.setupRoutes()
	s.Log.Infof("Listening on %v", port)
	return http.ListenAndServe(port, router)
}

func (s *Server) Close() {
	if s.TrainDB != nil {
		// Final save, so samples added since the last auto-save aren't lost
		if err := s.TrainDB.SaveSnapshot(s.Classifier.Snapshot()); err != nil {
			s.Log.Errorf("Final save of training samples failed: %v", err)
		}
		s.TrainDB.Close()
	}
	s.Log.Infof("Server is closed")
}
