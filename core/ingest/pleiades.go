package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	"github.com/tidwall/gjson"
)

// PleiadesPlaceURI is the canonical URI prefix of a gazetteer place.
const PleiadesPlaceURI = "https://pleiades.stoa.org/places/"

// ConnectionTypeRelated tags connections listed only by URI in connectsWith.
const ConnectionTypeRelated = "related"

var placeIDPattern = regexp.MustCompile(`/places/(\d+)`)

// Gazetteer is the parsed content of a dump.
type Gazetteer struct {
	Places      []*model.Place
	Connections []*model.PlaceConnection
	Skipped     int // entries without a usable id
}

// ReadPlaces parses a gazetteer dump. Accepted shapes are a top-level array,
// a JSON-LD @graph, a places array, a GeoJSON FeatureCollection, an object of
// id to place, a single place object and newline delimited JSON.
func ReadPlaces(r io.Reader) (*Gazetteer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, helper.NewError("read dump", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	g := &Gazetteer{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return g, nil
	}

	if gjson.ValidBytes(trimmed) {
		root := gjson.ParseBytes(trimmed)
		for _, entry := range placeEntries(root) {
			g.add(entry)
		}
		return g, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' || !gjson.ValidBytes(line) {
			continue
		}
		g.add(gjson.ParseBytes(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, helper.NewError("scan dump", err)
	}

	return g, nil
}

func placeEntries(root gjson.Result) []gjson.Result {
	if root.IsArray() {
		return objects(root.Array())
	}
	if !root.IsObject() {
		return nil
	}

	fields := root.Map()
	if graph := fields["@graph"]; graph.IsArray() {
		return objects(graph.Array())
	}
	if places := fields["places"]; places.IsArray() {
		return objects(places.Array())
	}
	if features := fields["features"]; features.IsArray() {
		var out []gjson.Result
		for _, feature := range features.Array() {
			if props := feature.Get("properties"); props.IsObject() {
				out = append(out, props)
			}
		}
		return out
	}
	if looksLikePlace(fields) {
		return []gjson.Result{root}
	}

	var out []gjson.Result
	root.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() {
			out = append(out, value)
		}
		return true
	})
	return out
}

func looksLikePlace(fields map[string]gjson.Result) bool {
	_, hasID := fields["id"]
	uri, hasURI := fields["uri"]
	return hasID || (hasURI && placeIDPattern.MatchString(uri.String()))
}

func objects(values []gjson.Result) []gjson.Result {
	out := make([]gjson.Result, 0, len(values))
	for _, v := range values {
		if v.IsObject() {
			out = append(out, v)
		}
	}
	return out
}

func (g *Gazetteer) add(entry gjson.Result) {
	place, connections := parsePlace(entry)
	if place == nil {
		g.Skipped++
		return
	}
	g.Places = append(g.Places, place)
	g.Connections = append(g.Connections, connections...)
}

func parsePlace(entry gjson.Result) (*model.Place, []*model.PlaceConnection) {
	id := strings.TrimSpace(entry.Get("id").String())
	uri := entry.Get("uri").String()
	if id == "" {
		id = placeIDFromURI(uri)
	}
	if id == "" {
		return nil, nil
	}
	if uri == "" {
		uri = PleiadesPlaceURI + id
	}

	altNames, languages := collectNames(entry)
	place := &model.Place{
		GazetteerID: id,
		Title:       firstString(entry, "title", "name", "label"),
		AltNames:    altNames,
		Source:      model.SourcePleiades,
		URI:         uri,
		Description: entry.Get("description").String(),
		PlaceTypes:  stringList(firstPresent(entry, "placeTypes", "placeType", "place_type", "placeTypeURIs")),
		Subjects:    stringList(entry.Get("subject")),
		Languages:   languages,
		ReviewState: entry.Get("review_state").String(),
	}

	var connections []*model.PlaceConnection
	for _, target := range entry.Get("connectsWith").Array() {
		toID := placeIDFromURI(target.String())
		if toID == "" {
			continue
		}
		connections = append(connections, &model.PlaceConnection{
			FromID:         id,
			ToID:           toID,
			ToURI:          target.String(),
			ConnectionType: ConnectionTypeRelated,
		})
	}
	for _, c := range entry.Get("connections").Array() {
		toURI := c.Get("connectsTo").String()
		toID := placeIDFromURI(toURI)
		if toID == "" {
			continue
		}
		connectionType := c.Get("connectionType").String()
		if connectionType == "" {
			connectionType = ConnectionTypeRelated
		}
		connections = append(connections, &model.PlaceConnection{
			FromID:               id,
			ToID:                 toID,
			ToURI:                toURI,
			ConnectionType:       connectionType,
			Title:                c.Get("title").String(),
			AssociationCertainty: c.Get("associationCertainty").String(),
			URI:                  c.Get("uri").String(),
		})
	}

	return place, connections
}

// collectNames gathers alternate names in first seen order, splitting comma
// separated variants, plus the attested languages.
func collectNames(entry gjson.Result) ([]string, []string) {
	var names, languages []string
	seenName := map[string]bool{}
	seenLang := map[string]bool{}

	addName := func(value string) {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" && !seenName[part] {
				seenName[part] = true
				names = append(names, part)
			}
		}
	}

	for _, name := range entry.Get("names").Array() {
		if !name.IsObject() {
			continue
		}
		for _, key := range []string{"attested", "romanized", "title", "name"} {
			if v := name.Get(key); v.Type == gjson.String {
				addName(v.String())
			}
		}
		if lang := name.Get("language"); lang.Type == gjson.String && lang.String() != "" && !seenLang[lang.String()] {
			seenLang[lang.String()] = true
			languages = append(languages, lang.String())
		}
	}
	for _, key := range []string{"label", "placename"} {
		if v := entry.Get(key); v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" && !seenName[s] {
				seenName[s] = true
				names = append(names, s)
			}
		}
	}

	return names, languages
}

func placeIDFromURI(uri string) string {
	m := placeIDPattern.FindStringSubmatch(uri)
	if m == nil {
		return ""
	}
	return m[1]
}

func firstString(entry gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := entry.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstPresent(entry gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if v := entry.Get(key); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func stringList(value gjson.Result) []string {
	if !value.IsArray() {
		return nil
	}
	var out []string
	for _, v := range value.Array() {
		if v.Type == gjson.String && v.String() != "" {
			out = append(out, v.String())
		}
	}
	return out
}

// GazetteerStore persists places and their connections.
type GazetteerStore interface {
	UpsertPlace(ctx context.Context, place *model.Place) error
	InsertPlaceStub(ctx context.Context, gazetteerID string, uri string) error
	UpsertConnection(ctx context.Context, edge *model.Edge) (bool, error)
}

// GazetteerReport summarises one gazetteer load.
type GazetteerReport struct {
	Places      int `json:"places"`
	Skipped     int `json:"skipped"`
	Connections int `json:"connections"`
	Created     int `json:"created"` // new connected edges
	Errors      int `json:"errors"`
}

// LoadGazetteer upserts every place, then every connection. Targets missing
// from the dump become stub places; stubs never overwrite an existing place.
// Failed connection writes are counted and skipped.
func LoadGazetteer(ctx context.Context, store GazetteerStore, g *Gazetteer, writeRetries int, log *slog.Logger) (*GazetteerReport, error) {
	if log == nil {
		log = slog.Default()
	}
	report := &GazetteerReport{Skipped: g.Skipped}

	for _, place := range g.Places {
		err := helper.RetryOnConflict(ctx, writeRetries, func(ctx context.Context) error {
			return store.UpsertPlace(ctx, place)
		})
		if err != nil {
			return report, helper.NewError(fmt.Sprintf("upsert place %s", place.GazetteerID), err)
		}
		report.Places++
	}

	for _, connection := range g.Connections {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Connections++

		created, err := loadConnection(ctx, store, connection, writeRetries)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Errors++
			log.Warn(
				"Connection write failed",
				slog.String("from", connection.FromID),
				slog.String("to", connection.ToID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			report.Created++
		}
	}

	log.Info(
		"Gazetteer loaded",
		slog.Int("places", report.Places),
		slog.Int("skipped", report.Skipped),
		slog.Int("connections", report.Connections),
		slog.Int("created", report.Created),
		slog.Int("errors", report.Errors),
	)

	return report, nil
}

func loadConnection(ctx context.Context, store GazetteerStore, connection *model.PlaceConnection, writeRetries int) (bool, error) {
	toURI := connection.ToURI
	if toURI == "" {
		toURI = PleiadesPlaceURI + connection.ToID
	}
	err := helper.RetryOnConflict(ctx, writeRetries, func(ctx context.Context) error {
		return store.InsertPlaceStub(ctx, connection.ToID, toURI)
	})
	if err != nil {
		return false, helper.NewError("insert place stub", err)
	}

	var created bool
	edge := model.NewConnectionEdge(connection)
	err = helper.RetryOnConflict(ctx, writeRetries, func(ctx context.Context) error {
		var err error
		created, err = store.UpsertConnection(ctx, edge)
		return err
	})
	if err != nil {
		return false, helper.NewError("upsert connection", err)
	}
	return created, nil
}
