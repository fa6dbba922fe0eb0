package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/driftetl/internal/domain"
)

// Config bounds the work a single parse may do.
type Config struct {
	MaxDocumentBytes  int
	MaxCandidateBytes int
	Workers           int
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxDocumentBytes:  8 << 20,
		MaxCandidateBytes: 64 << 10,
		Workers:           4,
	}
}

// Parser turns marked-up text into records. It holds no per-document state
// and is safe for concurrent use.
type Parser struct {
	cfg      Config
	logger   *zap.Logger
	repairer *Repairer
	now      func() time.Time
}

// NewParser creates a parser. A nil logger disables logging.
func NewParser(cfg Config, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Parser{
		cfg:      cfg,
		logger:   logger,
		repairer: NewRepairer(cfg.MaxCandidateBytes),
		now:      time.Now,
	}
}

// WithClock returns a copy of the parser that stamps records using now.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	clone := *p
	clone.now = now
	return &clone
}

// Degradation describes a section that fell back to a raw record.
type Degradation struct {
	Section domain.SectionTag
	Err     error
}

// Result is the full outcome of parsing one document.
type Result struct {
	FileName string
	Sections []domain.Section
	Records  []domain.Record
	Degraded []Degradation
}

// Document is one input to ParseAll.
type Document struct {
	Text     string
	FileName string
}

// Parse returns the records extracted from text. It never fails: sections
// that cannot be parsed produce a fallback record instead.
func (p *Parser) Parse(text, filename string) []domain.Record {
	return p.ParseDocument(text, filename).Records
}

// ParseDocument parses text and also reports the sections found and the
// sections that degraded.
func (p *Parser) ParseDocument(text, filename string) Result {
	if p.cfg.MaxDocumentBytes > 0 && len(text) > p.cfg.MaxDocumentBytes {
		p.logger.Warn("document truncated",
			zap.String("file", filename),
			zap.Int("bytes", len(text)),
			zap.Int("limit", p.cfg.MaxDocumentBytes),
		)
		text = truncateBytes(text, p.cfg.MaxDocumentBytes)
	}

	result := Result{FileName: filename, Sections: Split(text)}
	for _, section := range result.Sections {
		records, err := p.parseSection(section)
		if err == nil && len(records) == 0 {
			err = fmt.Errorf("%w: no records extracted", domain.ErrParseDegraded)
		}
		if err != nil {
			p.logger.Warn("section degraded",
				zap.String("file", filename),
				zap.String("section", string(section.Tag)),
				zap.Error(err),
			)
			result.Degraded = append(result.Degraded, Degradation{Section: section.Tag, Err: err})
			records = []domain.Record{fallbackRecord(section, err)}
		}
		for idx := range records {
			records[idx].Provenance.Section = section.Tag
		}
		result.Records = append(result.Records, records...)
	}

	if len(result.Records) > 0 {
		meta := p.documentMetadata(text, filename)
		for idx := range result.Records {
			result.Records[idx].Provenance.SourceFile = filename
			meta.Range(func(key string, value any) bool {
				result.Records[idx].Set(key, value)
				return true
			})
		}
	}

	p.logger.Debug("document parsed",
		zap.String("file", filename),
		zap.Int("sections", len(result.Sections)),
		zap.Int("records", len(result.Records)),
		zap.Int("degraded", len(result.Degraded)),
	)
	return result
}

// ParseAll parses documents concurrently. Results keep the input order.
func (p *Parser) ParseAll(ctx context.Context, docs []Document) ([]Result, error) {
	results := make([]Result, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for idx, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[idx] = p.ParseDocument(doc.Text, doc.FileName)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseSection dispatches on the tag. A panicking parser is reported as a
// degraded section rather than taking the caller down.
func (p *Parser) parseSection(section domain.Section) (records []domain.Record, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			records = nil
			err = fmt.Errorf("%w: parser panic: %v", domain.ErrParseDegraded, recovered)
		}
	}()

	content := section.Content
	switch section.Tag {
	case domain.SectionMetadata:
		return parseColonLines(content, "metadata", false)
	case domain.SectionKeyValue:
		return parseColonLines(content, "key_value_pairs", true)
	case domain.SectionRepeatedFields:
		return parseColonLines(content, "repeated_fields", false)
	case domain.SectionInlineJSON:
		return p.parseInlineJSON(content)
	case domain.SectionMalformedJSON:
		return p.parseMalformedJSON(content)
	case domain.SectionHTMLSnippet:
		return parseHTML(content)
	case domain.SectionCSV, domain.SectionInlineCSV:
		return parseCSVSection(content)
	case domain.SectionJSONLD:
		return parseJSONLD(content)
	case domain.SectionAmbiguousTypes:
		return parseAmbiguousTypes(content)
	case domain.SectionVariantV2:
		return parseVariant(content)
	case domain.SectionRawParagraph:
		return parseRawText(content)
	case domain.SectionFreeText:
		return p.parseFreeText(content)
	case domain.SectionOCRFooter:
		return parseOCRFooter(content)
	default:
		return parseGeneric(section.Tag, content)
	}
}

func fallbackRecord(section domain.Section, err error) domain.Record {
	record := domain.NewRecord(string(section.Tag))
	record.Set("raw_content", truncate(section.Content, fallbackContentChars))
	record.Set("parse_error", err.Error())
	return record
}

var (
	scrapedAtPattern = regexp.MustCompile(`scraped_at:\s*([^\n]+)`)
	sourceURLPattern = regexp.MustCompile(`source:\s*(https?://[^\s]+)`)
)

// documentMetadata collects the per-document columns every record carries.
func (p *Parser) documentMetadata(text, filename string) domain.Fields {
	meta := domain.NewFields(6)
	meta.Set("source_file", filename)
	meta.Set("processed_at", p.now().UTC().Format(time.RFC3339))
	meta.Set("file_size_chars", int64(utf8.RuneCountInString(text)))
	meta.Set("total_lines", int64(strings.Count(text, "\n")+1))
	if match := scrapedAtPattern.FindStringSubmatch(text); match != nil {
		meta.Set("scraped_at", strings.TrimSpace(match[1]))
	}
	if match := sourceURLPattern.FindStringSubmatch(text); match != nil {
		meta.Set("source_url", strings.TrimSpace(match[1]))
	}
	return meta
}

func truncateBytes(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
