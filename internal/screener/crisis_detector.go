package screener

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/careloop-health/screener-engine/pkg/logging"
)

var crisisTracer = otel.Tracer("screener/crisis-detector")

// CrisisResult contains the outcome of scanning one user message.
type CrisisResult struct {
	Level           RiskLevel
	MatchedKeywords []string
	Confidence      float64
	Method          DetectionMethod
}

// Flagged reports whether a durable crisis event should be recorded.
// Low-level emotional language is expected in a mental-health screener and
// does not by itself open an event.
func (r *CrisisResult) Flagged() bool {
	return r.Level.AtLeast(RiskMedium)
}

// RequiresPivot reports whether the conversation must pause for a safety
// pivot before any model-generated reply.
func (r *CrisisResult) RequiresPivot() bool {
	return r.Level.AtLeast(RiskHigh)
}

// CrisisDetector scans user messages for crisis language. It is fully
// deterministic so the same message always classifies the same way, and it
// runs before any LLM call.
type CrisisDetector struct {
	logger   *logging.Logger
	patterns map[RiskLevel][]*crisisPattern
}

type crisisPattern struct {
	regex   *regexp.Regexp
	weight  float64
	keyword string
}

// NewCrisisDetector creates a keyword-based crisis detector.
func NewCrisisDetector(logger *logging.Logger) *CrisisDetector {
	if logger == nil {
		logger = logging.Default()
	}

	d := &CrisisDetector{
		logger:   logger,
		patterns: make(map[RiskLevel][]*crisisPattern),
	}

	// Active suicidal ideation or a stated plan.
	d.patterns[RiskCritical] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\bkill(ing)?\s+myself\b`), weight: 0.98, keyword: "kill myself"},
		{regex: regexp.MustCompile(`(?i)\b(commit|committing)\s+suicide\b`), weight: 0.98, keyword: "commit suicide"},
		{regex: regexp.MustCompile(`(?i)\bsuicidal?\b`), weight: 0.95, keyword: "suicide"},
		{regex: regexp.MustCompile(`(?i)\bend(ing)?\s+(my|it)\s+(life|all)\b`), weight: 0.95, keyword: "end my life"},
		{regex: regexp.MustCompile(`(?i)\b(want|wish(ed)?|going)\s+to\s+(die|be\s+dead)\b`), weight: 0.95, keyword: "want to die"},
		{regex: regexp.MustCompile(`(?i)\bbetter\s+off\s+dead\b`), weight: 0.9, keyword: "better off dead"},
		{regex: regexp.MustCompile(`(?i)\btake\s+my\s+(own\s+)?life\b`), weight: 0.95, keyword: "take my life"},
		{regex: regexp.MustCompile(`(?i)\b(overdose|hang\s+myself|jump\s+off)\b`), weight: 0.95, keyword: "method mention"},
		{regex: regexp.MustCompile(`(?i)\bnot\s+(want\s+to\s+be|be)\s+(alive|here)\s+anymore\b`), weight: 0.9, keyword: "not be here anymore"},
	}

	// Self-harm or abuse disclosures.
	d.patterns[RiskHigh] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\bhurt(ing)?\s+myself\b`), weight: 0.9, keyword: "hurt myself"},
		{regex: regexp.MustCompile(`(?i)\bself[\s-]?harm(ing|ed)?\b`), weight: 0.9, keyword: "self-harm"},
		{regex: regexp.MustCompile(`(?i)\bcut(ting)?\s+(myself|my\s+(arms?|legs?|wrists?))\b`), weight: 0.9, keyword: "cutting"},
		{regex: regexp.MustCompile(`(?i)\bburn(ing)?\s+myself\b`), weight: 0.85, keyword: "burning myself"},
		{regex: regexp.MustCompile(`(?i)\b(hits?|beat(s|ing)?|abus(es|ing|ed))\s+me\b`), weight: 0.9, keyword: "abuse disclosure"},
		{regex: regexp.MustCompile(`(?i)\b(being|getting)\s+abused\b`), weight: 0.9, keyword: "being abused"},
		{regex: regexp.MustCompile(`(?i)\btouch(es|ed|ing)?\s+me\s+(in\s+a\s+way|where)\b`), weight: 0.85, keyword: "unsafe touching"},
		{regex: regexp.MustCompile(`(?i)\bnot\s+safe\s+at\s+home\b`), weight: 0.85, keyword: "not safe at home"},
	}

	// Acute distress without an immediate safety disclosure.
	d.patterns[RiskMedium] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\bhopeless\b`), weight: 0.7, keyword: "hopeless"},
		{regex: regexp.MustCompile(`(?i)\bworthless\b`), weight: 0.7, keyword: "worthless"},
		{regex: regexp.MustCompile(`(?i)\bno\s+(point|reason)\s+(in|to)\s+(anything|living|going\s+on)\b`), weight: 0.75, keyword: "no point"},
		{regex: regexp.MustCompile(`(?i)\bcan'?t\s+(go|keep)\s+(on|going)\b`), weight: 0.7, keyword: "can't go on"},
		{regex: regexp.MustCompile(`(?i)\bhate\s+myself\b`), weight: 0.7, keyword: "hate myself"},
		{regex: regexp.MustCompile(`(?i)\bnobody\s+(cares|would\s+miss\s+me)\b`), weight: 0.7, keyword: "nobody cares"},
		{regex: regexp.MustCompile(`(?i)\bgive\s+up\s+on\s+everything\b`), weight: 0.65, keyword: "giving up"},
	}

	// Ordinary screener vocabulary. Tracked but never flagged.
	d.patterns[RiskLow] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\b(sad|down|unhappy)\b`), weight: 0.4, keyword: "sad"},
		{regex: regexp.MustCompile(`(?i)\bdepress(ed|ing|ion)\b`), weight: 0.45, keyword: "depressed"},
		{regex: regexp.MustCompile(`(?i)\b(anxious|anxiety|panick?y?)\b`), weight: 0.4, keyword: "anxious"},
		{regex: regexp.MustCompile(`(?i)\b(stressed|overwhelmed)\b`), weight: 0.4, keyword: "stressed"},
		{regex: regexp.MustCompile(`(?i)\blonely\b`), weight: 0.4, keyword: "lonely"},
		{regex: regexp.MustCompile(`(?i)\bcry(ing)?\s+(a\s+lot|all\s+the\s+time|myself\s+to\s+sleep)\b`), weight: 0.45, keyword: "crying"},
	}

	return d
}

var riskLevelsDescending = []RiskLevel{RiskCritical, RiskHigh, RiskMedium, RiskLow}

// Detect classifies a message. The highest matching level wins; keywords
// from that level are all collected for the audit record.
func (d *CrisisDetector) Detect(ctx context.Context, message string) *CrisisResult {
	_, span := crisisTracer.Start(ctx, "crisis.detect")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return &CrisisResult{Level: RiskNone, Method: DetectionKeyword}
	}

	for _, level := range riskLevelsDescending {
		var keywords []string
		confidence := 0.0
		for _, p := range d.patterns[level] {
			if p.regex.MatchString(message) {
				keywords = append(keywords, p.keyword)
				if p.weight > confidence {
					confidence = p.weight
				}
			}
		}
		if len(keywords) == 0 {
			continue
		}

		result := &CrisisResult{
			Level:           level,
			MatchedKeywords: keywords,
			Confidence:      confidence,
			Method:          DetectionKeyword,
		}

		span.SetAttributes(
			attribute.String("crisis.level", string(level)),
			attribute.Float64("crisis.confidence", confidence),
			attribute.Int("crisis.keyword_count", len(keywords)),
		)
		if result.Flagged() {
			d.logger.Warn("crisis language detected",
				"level", level,
				"confidence", confidence,
				"keywords", keywords,
			)
		}
		return result
	}

	return &CrisisResult{Level: RiskNone, Method: DetectionKeyword}
}

// DetectSafe never lets a detector fault pass a message through unscreened.
// If classification panics, the message is treated as high risk and routed
// to a safety pivot for human-visible handling.
func (d *CrisisDetector) DetectSafe(ctx context.Context, message string) (result *CrisisResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("crisis detector panicked, failing closed", "panic", r)
			result = &CrisisResult{
				Level:           RiskHigh,
				MatchedKeywords: []string{"detector_failure"},
				Method:          DetectionManual,
			}
		}
	}()
	return d.Detect(ctx, message)
}
