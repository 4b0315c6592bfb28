package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/cache"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/rs/zerolog"
)

// maxBodySize caps one poll response
const maxBodySize = 8 << 20

// Publisher accepts ingested events; the hub implements it
type Publisher interface {
	PublishFrom(topic types.Topic, payload json.RawMessage, sourceID int64) (types.Event, error)
}

// Status is the poller's view for the status reporter
type Status struct {
	Endpoint            string    `json:"endpoint"`
	Cursor              int64     `json:"cursor"`
	LastAttempt         time.Time `json:"last_attempt,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalPolls          uint64    `json:"total_polls"`
	TotalFailures       uint64    `json:"total_failures"`
	TotalIngested       uint64    `json:"total_ingested"`
}

// Poller pulls new records from the backend on a fixed interval and
// publishes them. A failed poll changes nothing and is retried unchanged on
// the next tick.
type Poller struct {
	endpoint  string
	token     string
	interval  time.Duration
	client    *http.Client
	publisher Publisher
	enabled   types.TopicSet
	cursors   storage.Store
	etags     *cache.Cache[string, string]
	logger    zerolog.Logger

	// serialises polls so a slow one never overlaps the next
	pollMu sync.Mutex

	mu     sync.RWMutex
	cursor int64
	status Status
}

// New creates a poller and restores its cursor from cursors
func New(cfg *config.Config, publisher Publisher, cursors storage.Store) (*Poller, error) {
	if _, err := url.Parse(cfg.BackendEndpoint); err != nil {
		return nil, fmt.Errorf("invalid backend_endpoint: %w", err)
	}

	cursor, err := cursors.LoadCursor(cfg.BackendEndpoint)
	if err != nil {
		return nil, err
	}

	p := &Poller{
		endpoint:  cfg.BackendEndpoint,
		token:     cfg.BackendToken,
		interval:  cfg.PollIntervalDuration(),
		publisher: publisher,
		enabled:   cfg.EnabledTopics(),
		cursors:   cursors,
		etags:     cache.New[string, string]("upstream_etags", cfg.CacheTTLDuration()),
		logger:    log.WithComponent("poller"),
		client: &http.Client{
			Timeout: cfg.PollTimeoutDuration(),
		},
		cursor: cursor.LastID,
	}
	p.status = Status{Endpoint: p.endpoint, Cursor: p.cursor}
	return p, nil
}

// Run polls immediately and then every interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().
		Str("endpoint", p.endpoint).
		Dur("interval", p.interval).
		Int64("cursor", p.Cursor()).
		Msg("Poller started")

	for {
		// Errors are recorded and logged by Poll; never fatal
		_, _ = p.Poll(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return nil
		}
	}
}

// Poll performs one request and returns how many events were published.
// The returned error is a *types.PollError.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PollDuration)

	cursor := p.Cursor()
	p.mu.Lock()
	p.status.LastAttempt = time.Now()
	p.status.TotalPolls++
	p.mu.Unlock()

	records, notModified, err := p.fetch(ctx, cursor)
	if err != nil {
		p.recordFailure(err)
		return 0, err
	}
	if notModified {
		metrics.PollRequestsTotal.WithLabelValues("not_modified").Inc()
		p.recordSuccess(cursor, 0)
		return 0, nil
	}

	published, next := p.ingest(records, cursor)
	if next != cursor {
		if err := p.cursors.SaveCursor(p.endpoint, storage.Cursor{LastID: next, UpdatedAt: time.Now()}); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to persist cursor")
		}
	}

	metrics.PollRequestsTotal.WithLabelValues("success").Inc()
	p.recordSuccess(next, published)
	return published, nil
}

// fetch performs the request and validates the whole response before any
// of it is used
func (p *Poller) fetch(ctx context.Context, cursor int64) ([]types.UpstreamRecord, bool, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, false, &types.PollError{Reason: types.PollReasonNetwork, Err: err}
	}
	q := u.Query()
	q.Set("after", strconv.FormatInt(cursor, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, &types.PollError{Reason: types.PollReasonNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if etag, ok := p.etags.Get(u.String()); ok {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, false, &types.PollError{Reason: types.PollReasonNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, false, &types.PollError{
			Reason:     types.PollReasonStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, false, &types.PollError{Reason: types.PollReasonNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, false, err
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		p.etags.Set(u.String(), etag)
	}
	return records, false, nil
}

// decodeRecords enforces the response schema: a JSON array whose elements
// all carry id, topic and payload
func decodeRecords(body []byte) ([]types.UpstreamRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &types.PollError{Reason: types.PollReasonSchema, Err: errors.New("response body is not a JSON array")}
	}

	var records []types.UpstreamRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, &types.PollError{Reason: types.PollReasonDecode, Err: err}
	}

	for i, rec := range records {
		switch {
		case rec.ID == nil:
			return nil, &types.PollError{Reason: types.PollReasonSchema, Err: fmt.Errorf("record %d: missing id", i)}
		case rec.Topic == "":
			return nil, &types.PollError{Reason: types.PollReasonSchema, Err: fmt.Errorf("record %d: missing topic", i)}
		case len(rec.Payload) == 0 || bytes.Equal(rec.Payload, []byte("null")):
			return nil, &types.PollError{Reason: types.PollReasonSchema, Err: fmt.Errorf("record %d: missing payload", i)}
		}
	}
	return records, nil
}

// ingest publishes records newer than cursor in id order and returns the
// number published and the new cursor
func (p *Poller) ingest(records []types.UpstreamRecord, cursor int64) (int, int64) {
	sort.SliceStable(records, func(i, j int) bool {
		return *records[i].ID < *records[j].ID
	})

	next := cursor
	published := 0
	for _, rec := range records {
		id := *rec.ID
		if id <= cursor {
			continue
		}
		if id > next {
			next = id
		}

		topic, err := types.ParseTopic(rec.Topic)
		if err != nil || !p.enabled.Has(topic) {
			p.logger.Debug().Int64("id", id).Str("topic", rec.Topic).Msg("Skipping record for unsupported topic")
			continue
		}

		event, err := p.publisher.PublishFrom(topic, rec.Payload, id)
		if err != nil {
			p.logger.Warn().Err(err).Int64("id", id).Str("topic", rec.Topic).Msg("Failed to publish record")
			continue
		}
		published++

		p.logger.Debug().
			Int64("id", id).
			Str("topic", topic.String()).
			Uint64("seq", event.Sequence).
			Msg("Ingested record")
	}
	return published, next
}

func (p *Poller) recordSuccess(cursor int64, published int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.ConsecutiveFailures > 0 {
		p.logger.Info().
			Int("failures", p.status.ConsecutiveFailures).
			Msg("Backend poll recovered")
	}
	p.cursor = cursor
	p.status.Cursor = cursor
	p.status.LastSuccess = time.Now()
	p.status.LastError = ""
	p.status.ConsecutiveFailures = 0
	p.status.TotalIngested += uint64(published)
	metrics.UpdateComponent("poller", true, "")
}

func (p *Poller) recordFailure(err error) {
	reason := string(types.PollReasonNetwork)
	var pollErr *types.PollError
	if errors.As(err, &pollErr) {
		reason = string(pollErr.Reason)
	}
	metrics.PollRequestsTotal.WithLabelValues(reason).Inc()

	p.mu.Lock()
	p.status.LastError = err.Error()
	p.status.ConsecutiveFailures++
	p.status.TotalFailures++
	failures := p.status.ConsecutiveFailures
	p.mu.Unlock()

	metrics.UpdateComponent("poller", false, err.Error())
	p.logger.Warn().
		Err(err).
		Str("reason", reason).
		Int("consecutive_failures", failures).
		Msg("PollFailure")
}

// Cursor returns the id of the last record ingested
func (p *Poller) Cursor() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Status returns a copy of the poll status
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// ETags exposes the ETag cache so the cleanup sweep can purge it
func (p *Poller) ETags() cache.Sweeper {
	return p.etags
}
