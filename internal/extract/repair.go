package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
)

// Repair strategy names, recorded in record provenance.
const (
	StrategyDirect     = "direct"
	StrategyMinimal    = "minimal"
	StrategyAggressive = "aggressive"
	StrategyManual     = "manual"
	StrategyLastResort = "last_resort"
)

const lastResortError = "could not parse as valid JSON"

// Repaired is the outcome of running a candidate through the cascade.
type Repaired struct {
	Fields       domain.Fields
	Strategy     string
	WasMalformed bool
}

type repairStrategy struct {
	name      string
	malformed bool
	apply     func(candidate string) (domain.Fields, error)
}

// Repairer coerces near-JSON text into an object by trying an ordered list
// of strategies. The first strategy that succeeds wins.
type Repairer struct {
	strategies        []repairStrategy
	maxCandidateBytes int
}

// NewRepairer builds the cascade. Candidates longer than maxCandidateBytes go
// straight to the last resort; zero disables the cap.
func NewRepairer(maxCandidateBytes int) *Repairer {
	return &Repairer{
		maxCandidateBytes: maxCandidateBytes,
		strategies: []repairStrategy{
			{name: StrategyMinimal, apply: repairMinimal},
			{name: StrategyAggressive, malformed: true, apply: repairAggressive},
			{name: StrategyManual, malformed: true, apply: extractManually},
		},
	}
}

// Repair runs the cascade. It never fails: when every strategy is exhausted
// the last resort synthesizes an object describing the raw text.
func (r *Repairer) Repair(candidate string) Repaired {
	if r.maxCandidateBytes <= 0 || len(candidate) <= r.maxCandidateBytes {
		for _, strategy := range r.strategies {
			fields, err := strategy.apply(candidate)
			if err != nil {
				continue
			}
			return Repaired{Fields: fields, Strategy: strategy.name, WasMalformed: strategy.malformed}
		}
	}
	return Repaired{Fields: lastResort(candidate), Strategy: StrategyLastResort, WasMalformed: true}
}

var (
	trailingCommaPattern  = regexp.MustCompile(`,(\s*[}\]])`)
	adjacentQuotedPattern = regexp.MustCompile(`"[ \t]*\n\s*"`)
	bareKeyPattern        = regexp.MustCompile(`(^|[{,\n])(\s*)([A-Za-z_][\w-]*)(\s*):`)
	lineCommentPattern    = regexp.MustCompile(`(?m)(^|[\s,{])//[^\n]*`)
	blockCommentPattern   = regexp.MustCompile(`(?s)/\*.*?\*/`)
	bareValuePattern      = regexp.MustCompile(`:(\s*)([A-Za-z_]\w*)(\s*)([,}\n])`)
	numberThenKeyPattern  = regexp.MustCompile(`(\d)[ \t]*\n(\s*)"`)
	objectThenKeyPattern  = regexp.MustCompile(`([}\]])[ \t]*\n(\s*)"`)
	literalThenKeyPattern = regexp.MustCompile(`\b(true|false|null)[ \t]*\n(\s*)"`)

	manualStringPattern  = regexp.MustCompile(`["']?(\w+)["']?\s*:\s*["']([^"'\n]*)["']`)
	manualNumberPattern  = regexp.MustCompile(`["']?(\w+)["']?\s*:\s*(-?\d+(?:\.\d+)?)\b`)
	manualBoolPattern    = regexp.MustCompile(`(?i)["']?(\w+)["']?\s*:\s*(true|false)\b`)
	manualArrayPattern   = regexp.MustCompile(`["']?(\w+)["']?\s*:\s*\[([^\]]*)\]`)
	readablePairsPattern = regexp.MustCompile(`["']?(\w+)["']?\s*:\s*["']?([^,"'}]*)["']?`)
	whitespaceRunPattern = regexp.MustCompile(`\s+`)
)

// punctuationFix strips trailing commas and inserts commas between adjacent
// quoted lines.
func punctuationFix(candidate string) string {
	fixed := trailingCommaPattern.ReplaceAllString(candidate, "$1")
	return adjacentQuotedPattern.ReplaceAllString(fixed, "\",\n\"")
}

func quoteBareKeys(candidate string) string {
	return bareKeyPattern.ReplaceAllString(candidate, `$1$2"$3"$4:`)
}

// repairMinimal applies the punctuation fixes, then key quoting, decoding
// after each step so quoting never touches text that already decodes.
func repairMinimal(candidate string) (domain.Fields, error) {
	fixed := punctuationFix(candidate)
	if fields, err := decodeObject(fixed); err == nil {
		return fields, nil
	}
	fixed = quoteBareKeys(fixed)
	if fields, err := decodeObject(fixed); err == nil {
		return fields, nil
	}
	fields, err := decodeFlowMapping(fixed)
	if err != nil {
		return domain.Fields{}, fmt.Errorf("%w: minimal repair: %v", domain.ErrParseDegraded, err)
	}
	return fields, nil
}

func aggressiveFix(candidate string) string {
	fixed := blockCommentPattern.ReplaceAllString(candidate, "")
	fixed = lineCommentPattern.ReplaceAllString(fixed, "$1")
	fixed = strings.ReplaceAll(fixed, "'", `"`)
	fixed = quoteBareKeys(fixed)
	fixed = bareValuePattern.ReplaceAllStringFunc(fixed, quoteBareValue)
	fixed = trailingCommaPattern.ReplaceAllString(fixed, "$1")
	fixed = adjacentQuotedPattern.ReplaceAllString(fixed, "\",\n\"")
	fixed = numberThenKeyPattern.ReplaceAllString(fixed, "$1,\n$2\"")
	fixed = objectThenKeyPattern.ReplaceAllString(fixed, "$1,\n$2\"")
	fixed = literalThenKeyPattern.ReplaceAllString(fixed, "$1,\n$2\"")
	return fixed
}

func quoteBareValue(match string) string {
	groups := bareValuePattern.FindStringSubmatch(match)
	switch groups[2] {
	case "true", "false", "null":
		return match
	}
	return ":" + groups[1] + `"` + groups[2] + `"` + groups[3] + groups[4]
}

func repairAggressive(candidate string) (domain.Fields, error) {
	fields, err := decodeObject(aggressiveFix(candidate))
	if err != nil {
		return domain.Fields{}, fmt.Errorf("%w: aggressive repair: %v", domain.ErrParseDegraded, err)
	}
	return fields, nil
}

// extractManually scans for individual fields. Later scans override earlier
// ones for the same key, keeping the key's first position.
func extractManually(candidate string) (domain.Fields, error) {
	fields := domain.NewFields(8)

	for _, match := range manualStringPattern.FindAllStringSubmatch(candidate, -1) {
		fields.Set(match[1], match[2])
	}
	for _, match := range manualNumberPattern.FindAllStringSubmatch(candidate, -1) {
		fields.Set(match[1], parseNumber(match[2]))
	}
	for _, match := range manualBoolPattern.FindAllStringSubmatch(candidate, -1) {
		fields.Set(match[1], strings.EqualFold(match[2], "true"))
	}
	for _, match := range manualArrayPattern.FindAllStringSubmatch(candidate, -1) {
		items := make([]any, 0)
		for _, item := range strings.Split(match[2], ",") {
			item = strings.Trim(strings.TrimSpace(item), `"'`)
			if item != "" {
				items = append(items, item)
			}
		}
		fields.Set(match[1], items)
	}

	if fields.Len() == 0 {
		return domain.Fields{}, fmt.Errorf("%w: no fields recognised", domain.ErrParseDegraded)
	}
	return fields, nil
}

func parseNumber(raw string) any {
	if !strings.Contains(raw, ".") {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return value
		}
	}
	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		return value
	}
	return raw
}

func lastResort(candidate string) domain.Fields {
	fields := domain.NewFields(3)
	fields.Set("raw_content", truncate(strings.TrimSpace(candidate), fallbackContentChars))
	fields.Set("parsing_error", lastResortError)
	fields.Set("extracted_text", readableSummary(candidate))
	return fields
}

// readableSummary renders "key: value" pairs found in unparseable text, or a
// whitespace-collapsed prefix of it.
func readableSummary(candidate string) string {
	content := strings.Trim(strings.TrimSpace(candidate), "{}")
	content = strings.TrimSpace(whitespaceRunPattern.ReplaceAllString(content, " "))

	matches := readablePairsPattern.FindAllStringSubmatch(content, -1)
	if len(matches) > 0 {
		parts := make([]string, 0, len(matches))
		for _, match := range matches {
			parts = append(parts, match[1]+": "+strings.TrimSpace(match[2]))
		}
		return strings.Join(parts, "; ")
	}
	if len([]rune(content)) > 100 {
		return truncate(content, 100) + "..."
	}
	return content
}
