package model

import (
	"fmt"
	"time"

	"github.com/federicodip/GraphRag/helper"
)

// Provenance tags written on edges.
const (
	SourceNameExactBoundary = "name-exact-boundary"
	SourceWikidata          = "wikidata"
	MatchedByPleiadesID     = "pleiadesId"
	PropertyPleiadesID      = "P1584"
)

const DefaultWikidataEndpoint = "https://query.wikidata.org/sparql"

// LinkerConfig represents configuration for a chunk linker run
type LinkerConfig struct {
	MinNameLength int    `json:"min_name_length"` // shorter surface forms are skipped
	Source        string `json:"source"`          // provenance tag of mention edges
	Workers       int    `json:"workers"`         // >1 links places concurrently
	WriteRetries  int    `json:"write_retries"`   // attempts per upsert on write conflict
}

// DefaultLinkerConfig returns a sensible default configuration
func DefaultLinkerConfig() LinkerConfig {
	return LinkerConfig{
		MinNameLength: 3,
		Source:        SourceNameExactBoundary,
		Workers:       1,
		WriteRetries:  3,
	}
}

// LinkerConfigFromEnv overrides the defaults with GRAPHRAG_LINK_* variables.
func LinkerConfigFromEnv() LinkerConfig {
	c := DefaultLinkerConfig()
	c.MinNameLength = helper.GetEnvInt("GRAPHRAG_LINK_MIN_NAME_LENGTH", c.MinNameLength)
	c.Source = helper.GetEnvString("GRAPHRAG_LINK_SOURCE", c.Source)
	c.Workers = helper.GetEnvInt("GRAPHRAG_LINK_WORKERS", c.Workers)
	c.WriteRetries = helper.GetEnvInt("GRAPHRAG_LINK_WRITE_RETRIES", c.WriteRetries)
	return c
}

// Validate rejects configurations a run cannot honour.
func (c LinkerConfig) Validate() error {
	if c.MinNameLength < 1 {
		return fmt.Errorf("min name length must be positive, got %d", c.MinNameLength)
	}
	if c.Source == "" {
		return fmt.Errorf("source tag must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Pacing is the policy for talking to a rate limited remote service.
// MinDelay separates consecutive remote calls, retries included.
type Pacing struct {
	MinDelay       time.Duration `json:"min_delay"`
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// EnrichmentConfig represents configuration for an enrichment job run
type EnrichmentConfig struct {
	Endpoint       string        `json:"endpoint"`
	Property       string        `json:"property"` // cross-reference property, e.g. P1584
	BatchSize      int           `json:"batch_size"`
	Pacing         Pacing        `json:"pacing"`
	RequestTimeout time.Duration `json:"request_timeout"`
	Source         string        `json:"source"`
	MatchedBy      string        `json:"matched_by"`
	Language       string        `json:"language"`
	UserAgent      string        `json:"user_agent"`
	WriteRetries   int           `json:"write_retries"`
}

// DefaultEnrichmentConfig returns the settings used against the public Wikidata endpoint.
func DefaultEnrichmentConfig() EnrichmentConfig {
	return EnrichmentConfig{
		Endpoint:  DefaultWikidataEndpoint,
		Property:  PropertyPleiadesID,
		BatchSize: 40,
		Pacing: Pacing{
			MinDelay:       600 * time.Millisecond,
			MaxRetries:     4,
			InitialBackoff: 6 * time.Second,
			MaxBackoff:     60 * time.Second,
		},
		RequestTimeout: 120 * time.Second,
		Source:         SourceWikidata,
		MatchedBy:      MatchedByPleiadesID,
		Language:       "en",
		UserAgent:      "GraphRAG-enricher/1.0",
		WriteRetries:   3,
	}
}

// EnrichmentConfigFromEnv overrides the defaults with GRAPHRAG_WDQS_* variables.
func EnrichmentConfigFromEnv() EnrichmentConfig {
	c := DefaultEnrichmentConfig()
	c.Endpoint = helper.GetEnvString("GRAPHRAG_WDQS_ENDPOINT", c.Endpoint)
	c.Property = helper.GetEnvString("GRAPHRAG_WDQS_PROPERTY", c.Property)
	c.BatchSize = helper.GetEnvInt("GRAPHRAG_WDQS_BATCH_SIZE", c.BatchSize)
	c.Pacing.MinDelay = helper.GetEnvDuration("GRAPHRAG_WDQS_MIN_DELAY", c.Pacing.MinDelay)
	c.Pacing.MaxRetries = helper.GetEnvInt("GRAPHRAG_WDQS_MAX_RETRIES", c.Pacing.MaxRetries)
	c.Pacing.InitialBackoff = helper.GetEnvDuration("GRAPHRAG_WDQS_INITIAL_BACKOFF", c.Pacing.InitialBackoff)
	c.Pacing.MaxBackoff = helper.GetEnvDuration("GRAPHRAG_WDQS_MAX_BACKOFF", c.Pacing.MaxBackoff)
	c.RequestTimeout = helper.GetEnvDuration("GRAPHRAG_WDQS_TIMEOUT", c.RequestTimeout)
	c.Language = helper.GetEnvString("GRAPHRAG_WDQS_LANGUAGE", c.Language)
	c.UserAgent = helper.GetEnvString("GRAPHRAG_WDQS_USER_AGENT", c.UserAgent)
	return c
}

// Validate rejects configurations a run cannot honour.
func (c EnrichmentConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if c.Property == "" {
		return fmt.Errorf("property must not be empty")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Pacing.MinDelay < 0 {
		return fmt.Errorf("min delay must not be negative, got %v", c.Pacing.MinDelay)
	}
	if c.Pacing.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.Pacing.MaxRetries)
	}
	return nil
}
