package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/federicodip/GraphRag/model"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

// EntityURIPrefix is prepended to a QID to build the canonical entity URI.
const EntityURIPrefix = "https://www.wikidata.org/entity/"

const sparqlResultsJSON = "application/sparql-results+json"

// breakerRecheckDelay is the pause suggested while a half-open breaker
// has a trial request in flight.
const breakerRecheckDelay = 10 * time.Millisecond

var (
	propertyPattern = regexp.MustCompile(`^P[0-9]+$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[a-zA-Z0-9]+)*$`)
	pointPattern    = regexp.MustCompile(`Point\(\s*(\S+)\s+(\S+)\s*\)`)
)

// Client looks up external entities carrying one of ids as the value of property.
// Every returned record has its GazetteerID set to the id it matched.
type Client interface {
	Query(ctx context.Context, property string, ids []string) ([]model.ExternalRecord, error)
}

// WikidataClient queries a SPARQL endpoint speaking the Wikidata dialect.
// Each Query is exactly one HTTP request; retries belong to the Resolver.
type WikidataClient struct {
	endpoint  string
	language  string
	userAgent string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	openFor   time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	openedAt time.Time
}

// NewWikidataClient creates a client for config.Endpoint. The circuit breaker
// opens after two full retry sequences failed in a row and turns half-open after
// MaxBackoff. Refused calls return a retryable RemoteError whose RetryAfter
// is the time left until it turns half-open.
func NewWikidataClient(config model.EnrichmentConfig, log *slog.Logger) (*WikidataClient, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}
	language := config.Language
	if language == "" {
		language = "en"
	}
	if !languagePattern.MatchString(language) {
		return nil, fmt.Errorf("invalid label language %q", language)
	}

	tripAfter := uint32(2 * (config.Pacing.MaxRetries + 1))
	openFor := config.Pacing.MaxBackoff
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	c := &WikidataClient{
		endpoint:  config.Endpoint,
		language:  language,
		userAgent: config.UserAgent,
		http:      &http.Client{Timeout: config.RequestTimeout},
		openFor:   openFor,
		log:       log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wikidata",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				c.mu.Lock()
				c.openedAt = time.Now()
				c.mu.Unlock()
			}
			log.Warn("Circuit breaker changed state", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !IsRetryable(err)
		},
	})

	return c, nil
}

// Query sends one batched lookup and parses the result rows.
func (c *WikidataClient) Query(ctx context.Context, property string, ids []string) ([]model.ExternalRecord, error) {
	query, err := BuildQuery(property, ids, c.language)
	if err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, query)
	})
	if IsCircuitOpen(err) {
		return nil, &RemoteError{Err: err, RetryAfter: c.untilHalfOpen()}
	}
	if err != nil {
		return nil, err
	}

	return ParseBindings(result.([]byte))
}

// untilHalfOpen is the time left before an open breaker lets a request through.
func (c *WikidataClient) untilHalfOpen() time.Duration {
	if c.breaker.State() != gobreaker.StateOpen {
		return breakerRecheckDelay
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return max(c.openFor-time.Since(c.openedAt), breakerRecheckDelay)
}

func (c *WikidataClient) post(ctx context.Context, query string) ([]byte, error) {
	form := url.Values{}
	form.Set("query", query)
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", sparqlResultsJSON)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RemoteError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RemoteError{StatusCode: resp.StatusCode, Err: fmt.Errorf("error reading body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       bodyHead(body),
		}
	}

	c.log.Debug("Query answered", slog.Int("bytes", len(body)))

	return body, nil
}

var sparqlEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// BuildQuery renders the batched lookup for ids. Ids are written as escaped
// string literals; property must look like P<digits>.
func BuildQuery(property string, ids []string, language string) (string, error) {
	if !propertyPattern.MatchString(property) {
		return "", fmt.Errorf("invalid property %q", property)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no ids to query")
	}
	if !languagePattern.MatchString(language) {
		return "", fmt.Errorf("invalid label language %q", language)
	}

	values := make([]string, 0, len(ids))
	for _, id := range ids {
		values = append(values, `"`+sparqlEscaper.Replace(id)+`"`)
	}

	var b strings.Builder
	b.WriteString("SELECT ?item ?gid ?itemLabel ?coord ?inst WHERE {\n")
	fmt.Fprintf(&b, "  VALUES ?gid { %s }\n", strings.Join(values, " "))
	fmt.Fprintf(&b, "  ?item wdt:%s ?gid .\n", property)
	b.WriteString("  OPTIONAL { ?item wdt:P625 ?coord . }\n")
	b.WriteString("  OPTIONAL { ?item wdt:P31 ?inst . }\n")
	fmt.Fprintf(&b, "  SERVICE wikibase:label { bd:serviceParam wikibase:language \"%s\". }\n", language)
	b.WriteString("}")

	return b.String(), nil
}

// ParseBindings reads a SPARQL JSON result. A body that is not a result
// document is a retryable RemoteError; rows without item or gid are skipped.
func ParseBindings(body []byte) ([]model.ExternalRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, &RemoteError{StatusCode: http.StatusOK, Body: bodyHead(body), Err: fmt.Errorf("response is not valid JSON")}
	}
	bindings := gjson.GetBytes(body, "results.bindings")
	if !bindings.IsArray() {
		return nil, &RemoteError{StatusCode: http.StatusOK, Body: bodyHead(body), Err: fmt.Errorf("response has no results.bindings")}
	}

	var records []model.ExternalRecord
	for _, row := range bindings.Array() {
		qid := lastSegment(row.Get("item.value").String())
		gid := row.Get("gid.value").String()
		if qid == "" || gid == "" {
			continue
		}

		record := model.ExternalRecord{
			GazetteerID: gid,
			ExternalID:  qid,
			URI:         EntityURIPrefix + qid,
		}
		if label := row.Get("itemLabel.value"); label.Exists() && label.String() != "" {
			s := label.String()
			record.Label = &s
		}
		if inst := lastSegment(row.Get("inst.value").String()); inst != "" {
			record.InstanceOf = &inst
		}
		if lat, lon, ok := parsePoint(row.Get("coord.value").String()); ok {
			record.Lat = &lat
			record.Lon = &lon
		}
		records = append(records, record)
	}

	return records, nil
}

func lastSegment(uri string) string {
	uri = strings.TrimSpace(uri)
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// parsePoint reads a WKT literal "Point(lon lat)".
func parsePoint(wkt string) (float64, float64, bool) {
	m := pointPattern.FindStringSubmatch(wkt)
	if m == nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
