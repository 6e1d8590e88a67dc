// Package explore probes unknown device firmware: it enumerates GATT
// services and fires raw payloads at the write characteristic, recording
// every exchange to a JSONL event log for offline analysis. Nothing here
// interprets responses; interpretation is the analyst's job.
package explore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/transport"
)

// Event is one JSONL log line. Every event carries the exploration session
// ID so interleaved logs from multiple runs stay separable.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Session   string         `json:"session"`
	Device    string         `json:"device,omitempty"`
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// PatternResult reports one probe exchange.
type PatternResult struct {
	Pattern     Pattern `json:"pattern"`
	ResponseHex string  `json:"response_hex,omitempty"`
	TimedOut    bool    `json:"timed_out"`
	Err         string  `json:"error,omitempty"`
}

// Explorer drives an exploration session over an open transport.
type Explorer struct {
	tr        transport.Transport
	log       zerolog.Logger
	enc       *json.Encoder
	sessionID string
	address   string

	// ResponseWait bounds how long each probe waits for a reply. Silence
	// is itself a finding, so a timeout is recorded, not retried.
	ResponseWait time.Duration

	notif chan []byte
}

// New creates an explorer logging JSONL events to out.
func New(tr transport.Transport, out io.Writer, log zerolog.Logger) *Explorer {
	return &Explorer{
		tr:           tr,
		log:          log,
		enc:          json.NewEncoder(out),
		sessionID:    uuid.NewString(),
		ResponseWait: 2 * time.Second,
		notif:        make(chan []byte, 64),
	}
}

// SessionID returns this exploration run's identifier.
func (e *Explorer) SessionID() string { return e.sessionID }

// Connect opens the transport and subscribes for raw notifications.
func (e *Explorer) Connect(ctx context.Context, address string) error {
	if err := e.tr.Connect(ctx, address); err != nil {
		e.logEvent("connect_failed", map[string]any{"error": err.Error()})
		return err
	}
	e.address = address
	if err := e.tr.Subscribe(func(p []byte) {
		select {
		case e.notif <- p:
		default:
		}
	}); err != nil {
		e.tr.Disconnect()
		return err
	}
	e.logEvent("connected", nil)
	return nil
}

// Close disconnects and records the session end.
func (e *Explorer) Close() error {
	e.logEvent("disconnected", nil)
	return e.tr.Disconnect()
}

// DiscoverServices enumerates the device's GATT tree, logging every
// service and characteristic found.
func (e *Explorer) DiscoverServices(ctx context.Context) ([]transport.Service, error) {
	services, err := e.tr.Services(ctx)
	if err != nil {
		e.logEvent("discovery_failed", map[string]any{"error": err.Error()})
		return nil, err
	}

	for _, svc := range services {
		for _, char := range svc.Characteristics {
			e.logEvent("characteristic_discovered", map[string]any{
				"service":    svc.UUID,
				"uuid":       char.UUID,
				"properties": char.Properties,
			})
		}
		e.logEvent("service_discovered", map[string]any{
			"uuid":            svc.UUID,
			"characteristics": len(svc.Characteristics),
		})
	}

	e.log.Info().Int("services", len(services)).Msg("service discovery complete")
	return services, nil
}

// TestPattern writes one probe and waits up to ResponseWait for a reply.
// A probe never fails the session: transport errors and silence are both
// recorded as results.
func (e *Explorer) TestPattern(ctx context.Context, p Pattern) PatternResult {
	result := PatternResult{Pattern: p}

	// Discard responses belonging to earlier probes.
	for {
		select {
		case <-e.notif:
			continue
		default:
		}
		break
	}

	if err := e.tr.WriteCharacteristic(ctx, p.Data); err != nil {
		result.Err = err.Error()
		e.logEvent("pattern_write_failed", map[string]any{
			"pattern": p.Description,
			"error":   err.Error(),
		})
		return result
	}

	select {
	case resp := <-e.notif:
		result.ResponseHex = hex.EncodeToString(resp)
		e.logEvent("pattern_response", map[string]any{
			"pattern":      p.Description,
			"type":         p.Type,
			"response_hex": result.ResponseHex,
		})
	case <-time.After(e.ResponseWait):
		result.TimedOut = true
		e.logEvent("pattern_silent", map[string]any{
			"pattern": p.Description,
			"type":    p.Type,
		})
	case <-ctx.Done():
		result.Err = ctx.Err().Error()
	}
	return result
}

// TestPatterns probes the whole corpus in order, stopping early only if
// the context is cancelled.
func (e *Explorer) TestPatterns(ctx context.Context, patterns []Pattern) []PatternResult {
	results := make([]PatternResult, 0, len(patterns))
	for i, p := range patterns {
		if ctx.Err() != nil {
			break
		}
		e.log.Debug().Int("index", i).Str("pattern", p.Description).Msg("probing")
		results = append(results, e.TestPattern(ctx, p))
	}
	e.logEvent("pattern_run_complete", map[string]any{"probes": len(results)})
	return results
}

func (e *Explorer) logEvent(eventType string, data map[string]any) {
	err := e.enc.Encode(Event{
		Timestamp: time.Now().UTC(),
		Session:   e.sessionID,
		Device:    e.address,
		Type:      eventType,
		Data:      data,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Msg("event log write failed")
	}
}
