package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/federicodip/GraphRag/model"
)

// Resolver turns batches of gazetteer ids into resolutions. It owns pacing
// and the bounded retry policy around a Client.
type Resolver struct {
	client   Client
	pacing   model.Pacing
	pacer    *Pacer
	property string
	log      *slog.Logger
	calls    atomic.Int64
}

// NewResolver creates a Resolver. A nil logger falls back to slog.Default().
func NewResolver(client Client, pacing model.Pacing, property string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		client:   client,
		pacing:   pacing,
		pacer:    NewPacer(pacing),
		property: property,
		log:      log,
	}
}

// Calls is the number of remote requests issued so far, retries included.
func (r *Resolver) Calls() int {
	return int(r.calls.Load())
}

// ResolveBatch issues one logical lookup for ids, retrying transient failures
// up to MaxRetries times with exponential backoff. The result has an entry for
// every id of the batch. Once retries are exhausted the last error is returned.
func (r *Resolver) ResolveBatch(ctx context.Context, ids []string) (map[string]model.Resolution, error) {
	records, err := r.query(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string][]model.ExternalRecord, len(ids))
	for _, record := range records {
		byID[record.GazetteerID] = append(byID[record.GazetteerID], record)
	}

	resolutions := make(map[string]model.Resolution, len(ids))
	for _, id := range ids {
		chosen, candidates := SelectCandidate(byID[id])
		resolutions[id] = model.Resolution{GazetteerID: id, Record: chosen, Candidates: candidates}
	}

	return resolutions, nil
}

func (r *Resolver) query(ctx context.Context, ids []string) ([]model.ExternalRecord, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.pacing.InitialBackoff
	b.MaxInterval = r.pacing.MaxBackoff
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.1
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.pacing.MaxRetries)), ctx)

	var records []model.ExternalRecord
	attempt := 0
	operation := func() error {
		for {
			if err := r.pacer.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}

			result, err := r.client.Query(ctx, r.property, ids)
			var wait time.Duration
			var remote *RemoteError
			if errors.As(err, &remote) && remote.RetryAfter > 0 {
				wait = remote.RetryAfter
				r.pacer.Defer(wait)
			}
			if IsCircuitOpen(err) {
				// refused without a request, wait for half-open instead of spending a retry
				if wait <= 0 {
					wait = breakerRecheckDelay
					r.pacer.Defer(wait)
				}
				r.log.Debug("Circuit breaker refused query", slog.Int("ids", len(ids)), slog.Duration("wait", wait))
				continue
			}

			attempt++
			r.calls.Add(1)
			r.pacer.Done()

			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				if !IsRetryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			records = result
			return nil
		}
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn(
			"Remote query failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("ids", len(ids)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return records, nil
}

// SelectCandidate picks the external entity with the lowest numeric id among
// records, so repeated runs choose the same one. It returns the merged record
// of that entity and the number of distinct entities seen. Rows of the chosen
// entity are merged by taking the smallest label, the lowest class id and the
// smallest (lat, lon) pair.
func SelectCandidate(records []model.ExternalRecord) (*model.ExternalRecord, int) {
	if len(records) == 0 {
		return nil, 0
	}

	distinct := map[string]bool{}
	for _, record := range records {
		distinct[record.ExternalID] = true
	}
	ids := make([]string, 0, len(distinct))
	for id := range distinct {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return qidLess(ids[i], ids[j]) })
	chosen := ids[0]

	var merged *model.ExternalRecord
	for _, record := range records {
		if record.ExternalID != chosen {
			continue
		}
		if merged == nil {
			m := model.ExternalRecord{GazetteerID: record.GazetteerID, ExternalID: record.ExternalID, URI: record.URI}
			merged = &m
		}
		if record.Label != nil && *record.Label != "" && (merged.Label == nil || *record.Label < *merged.Label) {
			merged.Label = record.Label
		}
		if record.InstanceOf != nil && *record.InstanceOf != "" && (merged.InstanceOf == nil || qidLess(*record.InstanceOf, *merged.InstanceOf)) {
			merged.InstanceOf = record.InstanceOf
		}
		if record.Lat != nil && record.Lon != nil && (merged.Lat == nil || pointLess(*record.Lat, *record.Lon, *merged.Lat, *merged.Lon)) {
			merged.Lat = record.Lat
			merged.Lon = record.Lon
		}
	}

	return merged, len(ids)
}

// qidLess orders ids like Q42 by their number, then lexically.
func qidLess(a, b string) bool {
	na, okA := qidNumber(a)
	nb, okB := qidNumber(b)
	switch {
	case okA && okB && na != nb:
		return na < nb
	case okA != okB:
		return okA
	}
	return a < b
}

func qidNumber(id string) (uint64, bool) {
	digits := strings.TrimPrefix(strings.TrimPrefix(id, "Q"), "q")
	n, err := strconv.ParseUint(digits, 10, 64)
	return n, err == nil
}

func pointLess(latA, lonA, latB, lonB float64) bool {
	if latA != latB {
		return latA < latB
	}
	return lonA < lonB
}
