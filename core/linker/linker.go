package linker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	"golang.org/x/sync/errgroup"
)

// PlaceReader reads the snapshot of places to link.
type PlaceReader interface {
	SelectAllPlaces(ctx context.Context) ([]*model.Place, error)
}

// CandidateRetriever returns the full-text shortlist of chunks for a phrase.
type CandidateRetriever interface {
	SelectChunksByFullText(ctx context.Context, phrase string) ([]*model.Chunk, error)
}

// MentionWriter persists mentions edges idempotently and reports creation.
type MentionWriter interface {
	UpsertMention(ctx context.Context, edge *model.Edge) (bool, error)
}

// Linker attaches chunks to the places they mention. Every write goes through
// the keyed mention upsert, so runs can be repeated and interrupted freely.
type Linker struct {
	places PlaceReader
	chunks CandidateRetriever
	edges  MentionWriter
	config model.LinkerConfig
	log    *slog.Logger
}

// New creates a Linker. A nil logger falls back to slog.Default().
func New(places PlaceReader, chunks CandidateRetriever, edges MentionWriter, config model.LinkerConfig, log *slog.Logger) *Linker {
	if log == nil {
		log = slog.Default()
	}
	return &Linker{
		places: places,
		chunks: chunks,
		edges:  edges,
		config: config,
		log:    log,
	}
}

// Run links every place of a snapshot taken at start. Configuration errors
// and cancellation abort the run; write failures are counted and skipped.
// The report is returned even when the run aborts.
func (l *Linker) Run(ctx context.Context) (*model.LinkReport, error) {
	start := time.Now()
	report := &model.LinkReport{}

	if err := l.config.Validate(); err != nil {
		return report, helper.NewError("linker config", err)
	}

	places, err := l.places.SelectAllPlaces(ctx)
	if err != nil {
		return report, helper.NewError("select places", err)
	}
	report.Places = len(places)

	l.log.Info("Linking chunks to places", slog.Int("places", len(places)), slog.Int("workers", l.config.Workers))

	if l.config.Workers <= 1 {
		for _, place := range places {
			placeReport, err := l.LinkPlace(ctx, place)
			report.Merge(placeReport)
			if err != nil {
				report.Duration = time.Since(start)
				return report, err
			}
		}
	} else {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.config.Workers)
		for _, place := range places {
			g.Go(func() error {
				placeReport, err := l.LinkPlace(gctx, place)
				mu.Lock()
				report.Merge(placeReport)
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
	}

	report.Duration = time.Since(start)
	l.log.Info(
		"Linking finished",
		slog.Int("places", report.Places),
		slog.Int("surface_forms", report.SurfaceForms),
		slog.Int("candidates", report.Candidates),
		slog.Int("confirmed", report.Confirmed),
		slog.Int("created", report.Created),
		slog.Int("existing", report.Existing),
		slog.Int("write_errors", report.WriteErrors),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// LinkPlace runs retrieve, confirm and write for every surface form of one place.
// The returned report does not count the place itself.
func (l *Linker) LinkPlace(ctx context.Context, place *model.Place) (model.LinkReport, error) {
	var report model.LinkReport

	for _, form := range SurfaceForms(place.Title, place.AltNames, l.config.MinNameLength) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.SurfaceForms++

		matcher, err := NewMatcher(form)
		if err != nil {
			l.log.Warn("Skipping surface form", slog.String("gazetteer_id", place.GazetteerID), slog.String("form", form), slog.String("error", err.Error()))
			continue
		}

		candidates, err := l.chunks.SelectChunksByFullText(ctx, form)
		if err != nil {
			return report, helper.NewError("retrieve candidates", err)
		}
		report.Candidates += len(candidates)

		for _, chunk := range candidates {
			if !matcher.Match(chunk.Content) {
				continue
			}
			report.Confirmed++

			created, err := l.writeMention(ctx, model.NewMentionEdge(chunk.ID, place.GazetteerID, form, l.config.Source))
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.WriteErrors++
				l.log.Warn(
					"Mention write failed",
					slog.String("gazetteer_id", place.GazetteerID),
					slog.Int64("chunk_id", chunk.ID),
					slog.String("form", form),
					slog.String("error", err.Error()),
				)
				continue
			}
			if created {
				report.Created++
			} else {
				report.Existing++
			}
		}
	}

	l.log.Debug(
		"Linked place",
		slog.String("gazetteer_id", place.GazetteerID),
		slog.Int("surface_forms", report.SurfaceForms),
		slog.Int("confirmed", report.Confirmed),
		slog.Int("created", report.Created),
	)

	return report, nil
}

func (l *Linker) writeMention(ctx context.Context, edge *model.Edge) (bool, error) {
	var created bool
	err := helper.RetryOnConflict(ctx, l.config.WriteRetries, func(ctx context.Context) error {
		var err error
		created, err = l.edges.UpsertMention(ctx, edge)
		return err
	})
	return created, err
}
