package gateway

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicegate/voicegate/internal/logging"
	"github.com/voicegate/voicegate/internal/observability"
	"github.com/voicegate/voicegate/internal/store"
	"github.com/voicegate/voicegate/internal/transcribe"
)

// Service creates connection sessions and holds their shared
// collaborators.
type Service struct {
	cfg       Config
	backend   transcribe.Backend
	store     store.Store
	publisher TranscriptPublisher
	metrics   *observability.Metrics
	registry  *Registry
	log       zerolog.Logger
}

func NewService(cfg Config, backend transcribe.Backend, st store.Store, pub TranscriptPublisher, metrics *observability.Metrics, log zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		backend:   backend,
		store:     st,
		publisher: pub,
		metrics:   metrics,
		registry:  NewRegistry(),
		log:       log,
	}
}

// NewSession registers and returns a session for one accepted
// connection. The caller owns running it.
func (svc *Service) NewSession() *Session {
	id := uuid.New().String()
	s := &Session{
		id:        id,
		cfg:       svc.cfg,
		backend:   svc.backend,
		store:     svc.store,
		publisher: svc.publisher,
		metrics:   svc.metrics,
		registry:  svc.registry,
		log:       logging.Session(svc.log, id),
		state:     StateConnecting,
	}
	svc.registry.Add(s)
	return s
}

// Registry exposes the live-session registry, mainly for diagnostics.
func (svc *Service) Registry() *Registry { return svc.registry }

// Store exposes the transcript store for the HTTP surface.
func (svc *Service) Store() store.Store { return svc.store }
