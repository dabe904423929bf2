package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

const streamFetchWait = 2 * time.Second

// StreamConsumerService pulls raw log lines from a JetStream durable consumer
// and hands them to the ingest pipeline. The subject's last token names the
// source (logs.ingest.payments -> "payments"); payloads are either the raw
// line or a JSON IngestRequest. Messages are acked only after the pipeline
// accepted them, so lines queued at shutdown are redelivered.
type StreamConsumerService struct {
	cfg      config.StreamConfig
	pipeline *IngestPipelineService
	logger   logger.Logger

	nc  *nats.Conn
	js  nats.JetStreamContext
	sub *nats.Subscription

	received int64
	acked    int64
	nacked   int64
}

func NewStreamConsumerService(cfg config.StreamConfig, pipeline *IngestPipelineService, log logger.Logger) *StreamConsumerService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if len(cfg.Subjects) == 0 {
		cfg.Subjects = []string{"logs.ingest.>"}
	}
	return &StreamConsumerService{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   log,
	}
}

// Connect dials the broker and makes sure the stream and the durable consumer
// exist. Reconnects are retried forever in the background.
func (s *StreamConsumerService) Connect() error {
	opts := []nats.Option{
		nats.Name(config.ServiceName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("stream connection lost", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("stream reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to stream broker: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream context: %w", err)
	}
	s.nc = nc
	s.js = js

	if err := s.ensureStream(); err != nil {
		nc.Close()
		return err
	}
	if err := s.ensureConsumer(); err != nil {
		nc.Close()
		return err
	}
	return nil
}

// Run fetches batches until ctx is cancelled. Fetch timeouts are the idle
// path; real errors back off a second and retry.
func (s *StreamConsumerService) Run(ctx context.Context) error {
	if s.js == nil {
		return errors.New("stream consumer not connected")
	}

	sub, err := s.js.PullSubscribe(s.filterSubject(), s.cfg.Durable)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	s.sub = sub

	s.logger.Info("stream consumer started",
		"stream", s.cfg.Stream, "filter", s.filterSubject(),
		"durable", s.cfg.Durable, "batch", s.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(s.cfg.BatchSize, nats.MaxWait(streamFetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("stream fetch failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			s.handle(ctx, msg)
		}
	}
}

// Close unsubscribes and drops the broker connection.
func (s *StreamConsumerService) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("stream unsubscribe failed", "error", err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
	s.logger.Info("stream consumer stopped",
		"received", atomic.LoadInt64(&s.received),
		"acked", atomic.LoadInt64(&s.acked),
		"nacked", atomic.LoadInt64(&s.nacked))
}

// Connected reports broker health for the readiness probe.
func (s *StreamConsumerService) Connected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

func (s *StreamConsumerService) ensureStream() error {
	want := &nats.StreamConfig{
		Name:      s.cfg.Stream,
		Subjects:  s.cfg.Subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	info, err := s.js.StreamInfo(s.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := s.js.AddStream(want); err != nil {
			return fmt.Errorf("create stream %s: %w", s.cfg.Stream, err)
		}
		s.logger.Info("created stream", "stream", s.cfg.Stream, "subjects", s.cfg.Subjects)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream lookup: %w", err)
	}

	// keep subjects already configured on the broker
	want.Subjects = info.Config.Subjects
	if _, err := s.js.UpdateStream(want); err != nil {
		return fmt.Errorf("update stream %s: %w", s.cfg.Stream, err)
	}
	return nil
}

func (s *StreamConsumerService) ensureConsumer() error {
	_, err := s.js.ConsumerInfo(s.cfg.Stream, s.cfg.Durable)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("consumer lookup: %w", err)
	}

	cfg := &nats.ConsumerConfig{
		Durable:       s.cfg.Durable,
		DeliverPolicy: nats.DeliverAllPolicy,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       time.Duration(s.cfg.AckWait) * time.Second,
		MaxAckPending: s.cfg.MaxAckPending,
		FilterSubject: s.filterSubject(),
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if _, err := s.js.AddConsumer(s.cfg.Stream, cfg); err != nil {
		return fmt.Errorf("create consumer %s: %w", s.cfg.Durable, err)
	}
	s.logger.Info("created durable consumer", "durable", s.cfg.Durable, "ackWait", cfg.AckWait)
	return nil
}

func (s *StreamConsumerService) handle(ctx context.Context, msg *nats.Msg) {
	atomic.AddInt64(&s.received, 1)

	line, source := decodeStreamMessage(msg)
	if err := s.pipeline.Submit(ctx, line, source); err != nil {
		monitoring.RecordStreamMessage("failed")
		atomic.AddInt64(&s.nacked, 1)
		if nakErr := msg.Nak(); nakErr != nil {
			s.logger.Warn("stream nack failed", "subject", msg.Subject, "error", nakErr)
		}
		return
	}

	monitoring.RecordStreamMessage("processed")
	if err := msg.Ack(); err != nil {
		s.logger.Warn("stream ack failed", "subject", msg.Subject, "error", err)
		return
	}
	atomic.AddInt64(&s.acked, 1)
}

func (s *StreamConsumerService) filterSubject() string {
	return s.cfg.Subjects[0]
}

// decodeStreamMessage extracts the raw line and source label. A JSON object
// payload with a "line" key wins over the plain-text interpretation and may
// override the subject-derived source.
func decodeStreamMessage(msg *nats.Msg) (line, source string) {
	source = sourceFromSubject(msg.Subject)

	data := strings.TrimSpace(string(msg.Data))
	if strings.HasPrefix(data, "{") {
		var req models.IngestRequest
		if err := json.Unmarshal(msg.Data, &req); err == nil && req.Line != "" {
			if req.Source != "" {
				source = req.Source
			}
			return req.Line, source
		}
	}
	return string(msg.Data), source
}

// sourceFromSubject takes the token after the subject prefix: the publish
// convention is logs.ingest.<source>.
func sourceFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-1]
}
