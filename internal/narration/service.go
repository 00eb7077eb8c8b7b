package narration

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/nats-io/nats.go"
)

const queueGroup = "narrators"

// Service answers narration requests received over the bus.
type Service struct {
	cfg      config.NarrationConfig
	bus      *bus.Client
	narrator Narrator
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Int64
	logger   *slog.Logger
}

func NewService(parent context.Context, cfg config.NarrationConfig, busClient *bus.Client, narrator Narrator, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		narrator: narrator,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "narration-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectNarrationRequest, queueGroup, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("narration service listening", slog.String("subject", protocol.SubjectNarrationRequest))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

// InFlight reports how many bus requests are being narrated.
func (s *Service) InFlight() int { return int(s.inFlight.Load()) }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.NarrationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode narration request", slogError(err))
		s.respond(msg, protocol.NarrationReply{Error: err.Error(), ErrorKind: protocol.ErrorKindInvalid})
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	s.inFlight.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)

		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()

		out, err := s.narrator.Narrate(ctx, Request{RequestID: req.RequestID, Text: req.Text, Voice: req.Voice})
		s.respond(msg, Reply(req.RequestID, out, err, req.IncludeAudio))
		s.publishStatus(req.RequestID, out, err)
	}()
}

// respond sends reply, falling back to a reply without audio when the
// encoded message is over the bus max payload.
func (s *Service) respond(msg *nats.Msg, reply protocol.NarrationReply) {
	err := s.bus.RespondJSON(msg, reply)
	if errors.Is(err, bus.ErrPayloadTooLarge) && reply.Audio != nil {
		s.logger.Warn("narration reply too large for the bus, sending it without audio",
			slog.String("request_id", reply.RequestID),
			slog.Int("audio_bytes", len(reply.Audio)),
			slogError(err))
		reply.Audio = nil
		reply.Error = err.Error() + "; audio omitted, request it over HTTP"
		reply.ErrorKind = protocol.ErrorKindPayloadTooLarge
		err = s.bus.RespondJSON(msg, reply)
	}
	if err != nil {
		s.logger.Warn("failed to send narration reply", slog.String("request_id", reply.RequestID), slogError(err))
	}
}

func (s *Service) publishStatus(requestID string, out Output, err error) {
	status := protocol.NarrationStatus{
		RequestID: requestID,
		Backend:   out.Backend,
		Completed: err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	if pErr := s.bus.PublishJSON(protocol.SubjectNarrationDone, status); pErr != nil {
		s.logger.Warn("failed to publish narration status", slogError(pErr))
	}
}
