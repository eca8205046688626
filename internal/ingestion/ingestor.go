package ingestion

import (
	"context"
	"strings"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter applies one command. *core.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*core.Result, error)
}

// Ingestor turns raw NATS messages into core commands. A message is acked
// once the core has decided on it: applied, duplicate or rejected for a
// reason that redelivery cannot change. Transient failures are nakked for
// redelivery and malformed payloads are terminated.
type Ingestor struct {
	rawChan   <-chan RawEvent
	submitter Submitter
	subjects  map[string]string
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewIngestor(rawChan <-chan RawEvent, submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Ingestor {
	// Subjects use a ">" wildcard, so match by prefix.
	subjects := make(map[string]string)
	for _, cfg := range DefaultSubjects() {
		subjects[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.EventType
	}
	return &Ingestor{
		rawChan:   rawChan,
		submitter: submitter,
		subjects:  subjects,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run processes messages until ctx is cancelled or the channel is closed.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in.rawChan:
			if !ok {
				return nil
			}
			in.handle(ctx, raw)
		}
	}
}

func (in *Ingestor) handle(ctx context.Context, raw RawEvent) {
	eventType := raw.EventType
	if eventType == "" {
		eventType = in.resolveEventType(raw.Subject)
	}
	if eventType == "" {
		in.logger.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
		raw.TermFunc()
		return
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		in.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
		raw.TermFunc()
		return
	}

	res, err := in.submitter.Submit(ctx, evt)
	log := observability.CommandLogger(in.logger, evt)

	switch ledgererr.ClassOf(err) {
	case 0:
		if in.metrics != nil {
			in.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(raw.Timestamp).Seconds())
		}
		if res.Duplicate {
			log.Debug().Msg("duplicate command acknowledged")
		}
		raw.AckFunc()
	case ledgererr.ClassValidation, ledgererr.ClassAuthorization:
		log.Info().Err(err).Msg("command rejected")
		raw.AckFunc()
	case ledgererr.ClassTransient:
		log.Warn().Err(err).Msg("command deferred")
		raw.NakFunc()
	default:
		log.Error().Err(err).Msg("command failed")
		raw.NakFunc()
	}
}

// resolveEventType finds the command type for a subject by matching the
// longest configured prefix.
func (in *Ingestor) resolveEventType(subject string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range in.subjects {
		if strings.HasPrefix(subject, prefix+".") && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = evtType
		}
	}
	return bestType
}
