package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/metrics"
)

const jsonLDType = "application/ld+json"

// ParseError reports a structured-data block that could not be decoded.
type ParseError struct {
	Block int // zero-based position of the block in the document
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Block, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports an event entity that lacks a required field.
type ValidationError struct {
	Block int
	Name  string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("block %d: event %q: %v", e.Block, e.Name, e.Err)
	}
	return fmt.Sprintf("block %d: %v", e.Block, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Extractor pulls candidate records out of page markup.
type Extractor struct {
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates an Extractor. m may be nil.
func New(log *logger.Logger, m *metrics.Metrics) *Extractor {
	return &Extractor{
		log:     log.With(logger.Fields{"component": "extractor"}),
		metrics: m,
	}
}

// Extract returns the valid event candidates found in markup, in document order.
// Duplicates are kept; reconciling them is the coordinator's job.
func (x *Extractor) Extract(markup string) []event.CandidateRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		x.log.Error("Parsing HTML failed", nil, err)
		return nil
	}

	blocks := doc.Find("script").FilterFunction(func(_ int, s *goquery.Selection) bool {
		typ, _ := s.Attr("type")
		return isJSONLD(typ)
	})
	x.log.Info("Found JSON-LD scripts", logger.Fields{"count": blocks.Length()})

	candidates := make([]event.CandidateRecord, 0)
	blocks.Each(func(i int, s *goquery.Selection) {
		found, err := x.extractBlock(i, s.Text())
		x.metrics.Block(err)
		if err != nil {
			x.log.Warn("Skipping undecodable JSON-LD block", logger.Fields{"block": i, "error": err.Error()})
			return
		}
		candidates = append(candidates, found...)
	})

	x.log.Info("Events extracted from JSON-LD", logger.Fields{"count": len(candidates)})
	return candidates
}

// extractBlock decodes one block and returns its valid event candidates. Only decode
// failures are returned as errors; invalid events are logged and dropped here.
func (x *Extractor) extractBlock(index int, text string) ([]event.CandidateRecord, error) {
	data, err := decodeBlock(text)
	if err != nil {
		return nil, &ParseError{Block: index, Err: err}
	}

	var out []event.CandidateRecord
	for _, entity := range entities(data) {
		typeName, ok := eventType(entity["@type"])
		if !ok {
			continue
		}

		c := candidateFrom(entity, typeName)
		if err := c.Validate(); err != nil {
			x.metrics.Candidate(false)
			verr := &ValidationError{Block: index, Name: c.Name, Err: err}
			x.log.Warn("Incomplete event dropped", logger.Fields{"block": index, "name": c.Name, "error": verr.Error()})
			continue
		}

		x.metrics.Candidate(true)
		x.log.Debug("Event extracted", logger.Fields{"name": c.Name, "start_date": c.StartDate})
		out = append(out, c)
	}
	return out, nil
}

func isJSONLD(typ string) bool {
	mediaType, _, _ := strings.Cut(typ, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), jsonLDType)
}

// decodeBlock parses the script body. Numbers are kept as json.Number so prices keep
// their source spelling.
func decodeBlock(text string) (interface{}, error) {
	text = stripWrappers(text)
	if text == "" {
		return nil, errors.New("empty block")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding JSON-LD: %w", err)
	}

	// a single value only; a trailing semicolon is tolerated
	rest := strings.TrimSpace(text[dec.InputOffset():])
	if rest != "" && rest != ";" {
		return nil, fmt.Errorf("decoding JSON-LD: unexpected data after value: %.20q", rest)
	}
	return data, nil
}

// stripWrappers removes the HTML comment and CDATA guards some themes put around
// inline scripts.
func stripWrappers(text string) string {
	text = strings.TrimSpace(text)
	for _, p := range [][2]string{{"<!--", "-->"}, {"//<![CDATA[", "//]]>"}, {"<![CDATA[", "]]>"}} {
		if strings.HasPrefix(text, p[0]) && strings.HasSuffix(text, p[1]) {
			text = strings.TrimSpace(text[len(p[0]) : len(text)-len(p[1])])
		}
	}
	return text
}

// entities flattens the three block shapes (object, array, @graph container) into a list
// of objects.
func entities(data interface{}) []map[string]interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		if graph, ok := v["@graph"].([]interface{}); ok {
			return entities(graph)
		}
		return []map[string]interface{}{v}
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				out = append(out, entities(obj)...)
			}
		}
		return out
	default:
		return nil
	}
}
