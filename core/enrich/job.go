package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
)

// PlaceIDSource lists the gazetteer ids to enrich. A non-empty
// unlinkedProperty skips places already linked through that property.
type PlaceIDSource interface {
	SelectPlaceIDs(ctx context.Context, unlinkedProperty string) ([]string, error)
}

// BatchResolver resolves one batch of gazetteer ids.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, ids []string) (map[string]model.Resolution, error)
	Calls() int
}

// RecordWriter persists one resolved record.
type RecordWriter interface {
	Write(ctx context.Context, gazetteerID string, record *model.ExternalRecord) error
}

// Filter narrows the places an enrichment run visits.
type Filter struct {
	OnlyUnlinked bool     // skip places with a same_as edge for the configured property
	GazetteerIDs []string // explicit subset of the stored places; unknown ids are reported, not queried
}

// Job drives the resolver and writer over batches of places, one batch at a time.
type Job struct {
	places   PlaceIDSource
	resolver BatchResolver
	writer   RecordWriter
	config   model.EnrichmentConfig
	log      *slog.Logger
}

// NewJob creates a Job. A nil logger falls back to slog.Default().
func NewJob(places PlaceIDSource, resolver BatchResolver, writer RecordWriter, config model.EnrichmentConfig, log *slog.Logger) *Job {
	if log == nil {
		log = slog.Default()
	}
	return &Job{
		places:   places,
		resolver: resolver,
		writer:   writer,
		config:   config,
		log:      log,
	}
}

// Run enriches every selected place once. A batch whose retries are exhausted
// marks its places as errors and the run moves on. Configuration errors and
// cancellation stop the run; the report so far is returned with the error.
func (j *Job) Run(ctx context.Context, filter Filter) (*model.EnrichmentReport, error) {
	start := time.Now()
	report := model.NewEnrichmentReport()

	if err := j.config.Validate(); err != nil {
		return report, helper.NewError("enrichment config", err)
	}

	ids, unknown, err := j.selectIDs(ctx, filter)
	if err != nil {
		return report, err
	}
	report.Places = len(ids)
	report.Unknown = unknown
	if len(unknown) > 0 {
		j.log.Warn("Skipping gazetteer ids without a place", slog.Int("ids", len(unknown)), slog.Any("gazetteer_ids", unknown))
	}

	batches := NewBatchIterator(ids, j.config.BatchSize)
	calls := j.resolver.Calls()
	finish := func() {
		report.Calls = j.resolver.Calls() - calls
		report.Duration = time.Since(start)
	}

	j.log.Info("Enriching places", slog.Int("places", len(ids)), slog.Int("batches", batches.Count()), slog.String("property", j.config.Property))

	for index := 0; ; index++ {
		batch, ok := batches.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			finish()
			return report, err
		}
		report.Batches++

		resolutions, err := j.resolver.ResolveBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				finish()
				return report, ctx.Err()
			}
			for _, id := range batch {
				report.Record(id, model.OutcomeError)
			}
			report.FailedBatches = append(report.FailedBatches, model.FailedBatch{
				Index:        index,
				GazetteerIDs: append([]string(nil), batch...),
				Error:        err.Error(),
			})
			j.log.Error("Batch failed", slog.Int("batch", index), slog.Int("ids", len(batch)), slog.String("error", err.Error()))
			continue
		}

		if err := j.writeBatch(ctx, report, batch, resolutions); err != nil {
			finish()
			return report, err
		}

		j.log.Debug("Batch done", slog.Int("batch", index), slog.Int("resolved", report.Resolved), slog.Int("not_found", report.NotFound))
	}

	finish()
	j.log.Info(
		"Enrichment finished",
		slog.Int("places", report.Places),
		slog.Int("batches", report.Batches),
		slog.Int("calls", report.Calls),
		slog.Int("resolved", report.Resolved),
		slog.Int("not_found", report.NotFound),
		slog.Int("ambiguous", report.Ambiguous),
		slog.Int("errors", report.Errors),
		slog.Int("write_errors", report.WriteErrors),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

func (j *Job) writeBatch(ctx context.Context, report *model.EnrichmentReport, batch []string, resolutions map[string]model.Resolution) error {
	for _, id := range batch {
		resolution, ok := resolutions[id]
		if !ok || resolution.Record == nil {
			report.Record(id, model.OutcomeNotFound)
			continue
		}

		if err := j.writer.Write(ctx, id, resolution.Record); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if helper.IsConfigurationError(err) || helper.IsMissingObject(err) {
				return helper.NewError("write resolution", err)
			}
			report.WriteErrors++
			report.Record(id, model.OutcomeError)
			j.log.Warn("Resolution write failed", slog.String("gazetteer_id", id), slog.String("external_id", resolution.Record.ExternalID), slog.String("error", err.Error()))
			continue
		}

		if resolution.Ambiguous() {
			report.Record(id, model.OutcomeAmbiguous)
			j.log.Warn(
				"Ambiguous match resolved by tie-break",
				slog.String("gazetteer_id", id),
				slog.String("external_id", resolution.Record.ExternalID),
				slog.Int("candidates", resolution.Candidates),
			)
			continue
		}
		report.Record(id, model.OutcomeResolved)
	}
	return nil
}

// selectIDs returns the ids to visit, in order, each once. Explicit ids are
// restricted to the places the store lists for the filter; those without a
// place at all come back as unknown.
func (j *Job) selectIDs(ctx context.Context, filter Filter) ([]string, []string, error) {
	unlinked := ""
	if filter.OnlyUnlinked {
		unlinked = j.config.Property
	}
	eligible, err := j.places.SelectPlaceIDs(ctx, unlinked)
	if err != nil {
		return nil, nil, helper.NewError("select place ids", err)
	}
	if len(filter.GazetteerIDs) == 0 {
		return unique(eligible), nil, nil
	}

	known := eligible
	if unlinked != "" {
		known, err = j.places.SelectPlaceIDs(ctx, "")
		if err != nil {
			return nil, nil, helper.NewError("select place ids", err)
		}
	}
	isEligible := idSet(eligible)
	isKnown := idSet(known)

	var ids, unknown []string
	for _, id := range unique(filter.GazetteerIDs) {
		switch {
		case isEligible[id]:
			ids = append(ids, id)
		case !isKnown[id]:
			unknown = append(unknown, id)
		}
	}
	return ids, unknown, nil
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func idSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
