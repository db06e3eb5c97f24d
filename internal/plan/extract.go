package plan

import (
	"encoding/json"
	"strings"
)

// ParseMode records which extraction strategy produced a Plan, purely
// for diagnostics — it never changes behavior.
type ParseMode string

const (
	ParseModeJSONArray  ParseMode = "json_array"
	ParseModeJSONObject ParseMode = "json_object"
	ParseModeExtracted  ParseMode = "json_extracted"
	ParseModeRepaired   ParseMode = "json_repaired"
)

type stepsEnvelope struct {
	Steps   []Step `json:"steps"`
	NewPlan []Step `json:"new_plan"`
	Plan    []Step `json:"plan"`
}

// ExtractPlan implements the tolerant JSON extraction described in
// §4.5.1: strip markdown fences, locate the first balanced array or
// object, and if that still fails to parse, apply repairs in order and
// retry after each. It is deterministic and side-effect-free.
func ExtractPlan(raw string) (Plan, ParseMode, bool) {
	normalized := cleanModelJSON(raw)

	if steps, ok := parseStepArray(normalized); ok {
		return steps, ParseModeJSONArray, true
	}
	if steps, ok := parseStepEnvelope(normalized); ok {
		return steps, ParseModeJSONObject, true
	}

	if extracted := extractFirstBalancedJSON(normalized, '[', ']'); extracted != "" {
		if steps, ok := parseStepArray(extracted); ok {
			return steps, ParseModeExtracted, true
		}
		if steps, ok, mode := repairAndParse(extracted, parseStepArray); ok {
			_ = mode
			return steps, ParseModeRepaired, true
		}
	}
	if extracted := extractFirstBalancedJSON(normalized, '{', '}'); extracted != "" {
		if steps, ok := parseStepEnvelope(extracted); ok {
			return steps, ParseModeExtracted, true
		}
		if steps, ok, mode := repairAndParse(extracted, parseStepEnvelope); ok {
			_ = mode
			return steps, ParseModeRepaired, true
		}
	}

	return nil, "", false
}

// ExtractReflectionVerdict mirrors ExtractPlan but for a single
// ReflectionVerdict object (§4.6).
func ExtractReflectionVerdict(raw string) (*ReflectionVerdict, bool) {
	normalized := cleanModelJSON(raw)

	if v, ok := parseVerdict(normalized); ok {
		return v, true
	}
	if extracted := extractFirstBalancedJSON(normalized, '{', '}'); extracted != "" {
		if v, ok := parseVerdict(extracted); ok {
			return v, true
		}
		if v, ok, _ := repairAndParse(extracted, parseVerdict); ok {
			return v, true
		}
	}
	return nil, false
}

func parseStepArray(raw string) (Plan, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	var steps []Step
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, false
	}
	return normalizeSteps(steps), true
}

func parseStepEnvelope(raw string) (Plan, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	var env stepsEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, false
	}
	for _, candidate := range [][]Step{env.Steps, env.NewPlan, env.Plan} {
		if len(candidate) > 0 {
			return normalizeSteps(candidate), true
		}
	}
	return nil, false
}

func parseVerdict(raw string) (*ReflectionVerdict, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	var v ReflectionVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	if !v.IsRetryable {
		v.ModifiedStep = nil
	}
	return &v, true
}

func normalizeSteps(steps []Step) Plan {
	out := make(Plan, 0, len(steps))
	for _, s := range steps {
		if s.Params == nil {
			s.Params = map[string]any{}
		}
		if strings.TrimSpace(s.Type) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// repairAndParse applies the §4.5.1 repair strategies in order,
// re-attempting parse with fn after each.
func repairAndParse[T any](raw string, fn func(string) (T, bool)) (T, bool, string) {
	var zero T

	if repaired := escapeBareNewlinesInStrings(raw); repaired != raw {
		if v, ok := fn(repaired); ok {
			return v, true, "escape_newlines"
		}
	}

	if repaired := closeUnterminatedScriptField(raw); repaired != raw {
		if v, ok := fn(repaired); ok {
			return v, true, "close_script_field"
		}
		if further := escapeBareNewlinesInStrings(repaired); further != repaired {
			if v, ok := fn(further); ok {
				return v, true, "close_script_field+escape_newlines"
			}
		}
	}

	if repaired := truncateAtLastCloseBracket(raw); repaired != raw {
		if v, ok := fn(repaired); ok {
			return v, true, "truncate"
		}
	}

	return zero, false, ""
}

// escapeBareNewlinesInStrings rewrites literal newlines/tabs found
// inside JSON string literals into their escaped form, leaving
// structural whitespace alone.
func escapeBareNewlinesInStrings(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	changed := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
				b.WriteByte(ch)
				continue
			}
			switch ch {
			case '\\':
				escaped = true
				b.WriteByte(ch)
			case '"':
				inString = false
				b.WriteByte(ch)
			case '\n':
				b.WriteString(`\n`)
				changed = true
			case '\r':
				b.WriteString(`\r`)
				changed = true
			case '\t':
				b.WriteString(`\t`)
				changed = true
			default:
				b.WriteByte(ch)
			}
			continue
		}

		if ch == '"' {
			inString = true
		}
		b.WriteByte(ch)
	}

	if !changed {
		return s
	}
	return b.String()
}

// closeUnterminatedScriptField looks for a `"script": "...` field whose
// string was never closed before the next structural boundary (comma,
// `}` or `]`) and inserts a closing quote right before that boundary.
func closeUnterminatedScriptField(s string) string {
	const marker = `"script"`
	idx := strings.Index(s, marker)
	if idx < 0 {
		return s
	}

	colon := strings.IndexByte(s[idx+len(marker):], ':')
	if colon < 0 {
		return s
	}
	valueStart := idx + len(marker) + colon + 1
	for valueStart < len(s) && (s[valueStart] == ' ' || s[valueStart] == '\t') {
		valueStart++
	}
	if valueStart >= len(s) || s[valueStart] != '"' {
		return s
	}

	i := valueStart + 1
	escaped := false
	for i < len(s) {
		ch := s[i]
		if escaped {
			escaped = false
			i++
			continue
		}
		if ch == '\\' {
			escaped = true
			i++
			continue
		}
		if ch == '"' {
			return s // already terminated
		}
		i++
	}

	boundary := strings.IndexAny(s[valueStart+1:], ",}]")
	if boundary < 0 {
		return s[:valueStart+1] + s[valueStart+1:] + `"`
	}
	cut := valueStart + 1 + boundary
	return s[:cut] + `"` + s[cut:]
}

// truncateAtLastCloseBracket is the last-resort repair: cut the string
// at the last `]` seen and append whatever closers are needed so the
// result at least parses as JSON, even if it drops trailing steps.
func truncateAtLastCloseBracket(s string) string {
	last := strings.LastIndexByte(s, ']')
	if last < 0 {
		return s
	}
	candidate := s[:last+1]

	opens := strings.Count(candidate, "[") - strings.Count(candidate, "]")
	closes := ""
	for i := 0; i < opens; i++ {
		closes += "]"
	}
	return candidate + closes
}

func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractFirstBalancedJSON locates the first balanced open/close
// bracket span using a character-by-character state machine that
// tracks string context and escape characters, so brackets appearing
// inside string literals never misalign nesting depth.
func extractFirstBalancedJSON(input string, open, close byte) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return strings.TrimSpace(input[start : i+1])
			}
		}
	}
	return ""
}
