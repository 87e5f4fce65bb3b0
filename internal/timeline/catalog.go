package timeline

import (
	"fmt"
	"regexp"
	"strconv"
)

// Rule pairs a stage with a regular expression that signals it. Patterns are
// matched case-insensitively.
type Rule struct {
	Stage   Stage
	Pattern string
}

// detectionOrder is the order heuristics are tried in: latest stage first, so
// a line such as "Training complete" is attributed to the later stage.
var detectionOrder = []Stage{
	StageFailed,
	StageCompleted,
	StageWritingArtifacts,
	StageEvaluating,
	StageTraining,
	StageLoadingDataset,
	StageStarting,
}

// DefaultRules returns the built-in heuristic patterns
func DefaultRules() []Rule {
	return []Rule{
		{StageStarting, `\bstarting\b|\binitiali[sz]|\bbegin(ning|s)?\b|\brun[ _-]?id\b`},
		{StageLoadingDataset, `\bload(ing|ed|s)?\s+(the\s+)?(dataset|data)\b|\breading\s+(the\s+)?data\b|\bloaded\s+\d+\s+(rows|samples|records|examples)\b`},
		{StageTraining, `\bepoch\s*[:#]?\s*\d+|\btraining\s+(started|starting|begins?)\b|\bfit(ting)?\b`},
		{StageEvaluating, `\bevaluat|\bvalidat|\bscor(e|es|ing)\b|\bpredict(ing|ions?)?\b|\bconfusion\s+matrix\b`},
		{StageWritingArtifacts, `\b(saving|saved|wrote|writing|artifacts?|export(ing|ed)?)\b`},
		{StageCompleted, `\b(complete[ds]?|completion|finished|done|success(ful|fully)?|succeeded)\b`},
		{StageFailed, `\b(fail(ed|ure|s)?|errors?|exception|abort(ed|ing)?|crash(ed|es)?|fatal)\b`},
	}
}

var (
	stageTokenRe     = regexp.MustCompile(`\[RF:STAGE=([A-Za-z_]+)\]`)
	epochTokenRe     = regexp.MustCompile(`\[RF:EPOCH=(\d+)/(\d+)\]`)
	epochHeuristicRe = regexp.MustCompile(`(?i)\bepoch\s*[:#]?\s*(\d+)(?:\s*(?:/|of)\s*(\d+))?`)
)

type compiledRule struct {
	stage Stage
	re    *regexp.Regexp
}

// Catalog is an ordered table of stage patterns
type Catalog struct {
	rules []compiledRule
}

var defaultCatalog = mustCatalog(nil)

// DefaultCatalog returns the catalog built from DefaultRules
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// NewCatalog compiles extra rules on top of the built-in ones. For any given
// stage, extra rules are tried before the built-in patterns.
func NewCatalog(extra []Rule) (*Catalog, error) {
	byStage := make(map[Stage][]compiledRule)

	compile := func(r Rule) error {
		if _, ok := stageIdentifiers[r.Stage]; !ok {
			return fmt.Errorf("unknown stage %d in rule %q", int(r.Stage), r.Pattern)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern for stage %s: %w", r.Stage, err)
		}
		byStage[r.Stage] = append(byStage[r.Stage], compiledRule{stage: r.Stage, re: re})
		return nil
	}

	for _, r := range extra {
		if err := compile(r); err != nil {
			return nil, err
		}
	}
	for _, r := range DefaultRules() {
		if err := compile(r); err != nil {
			return nil, err
		}
	}

	c := &Catalog{}
	for _, stage := range detectionOrder {
		c.rules = append(c.rules, byStage[stage]...)
	}
	return c, nil
}

func mustCatalog(extra []Rule) *Catalog {
	c, err := NewCatalog(extra)
	if err != nil {
		panic(err)
	}
	return c
}

// Detect returns the stage a single line signals. An explicit
// [RF:STAGE=NAME] token wins over any heuristic match on the same line;
// tokens naming an unknown stage are ignored.
func (c *Catalog) Detect(line string) (Stage, bool) {
	if stage, ok := explicitStage(line); ok {
		return stage, true
	}

	for _, r := range c.rules {
		if r.re.MatchString(line) {
			return r.stage, true
		}
	}
	return 0, false
}

func explicitStage(line string) (Stage, bool) {
	for _, m := range stageTokenRe.FindAllStringSubmatch(line, -1) {
		if stage, ok := ParseStage(m[1]); ok {
			return stage, true
		}
	}
	return 0, false
}

// ParseEpoch extracts epoch progress from a line. An explicit
// [RF:EPOCH=c/t] token wins over "epoch N/M" or "epoch N of M" text; a bare
// "epoch N" yields a total of 0.
func ParseEpoch(line string) (EpochProgress, bool) {
	if m := epochTokenRe.FindStringSubmatch(line); m != nil {
		cur, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil {
			return EpochProgress{Current: cur, Total: total}, true
		}
	}

	m := epochHeuristicRe.FindStringSubmatch(line)
	if m == nil {
		return EpochProgress{}, false
	}
	cur, err := strconv.Atoi(m[1])
	if err != nil {
		return EpochProgress{}, false
	}
	total := 0
	if m[2] != "" {
		if t, err := strconv.Atoi(m[2]); err == nil {
			total = t
		}
	}
	return EpochProgress{Current: cur, Total: total}, true
}
