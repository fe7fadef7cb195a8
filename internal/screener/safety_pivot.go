package screener

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/careloop-health/screener-engine/pkg/logging"
)

var pivotTracer = otel.Tracer("screener/safety-pivot")

// CrisisResource is one support line shown during a safety pivot. The
// contact strings are part of the product contract and rendered verbatim.
type CrisisResource struct {
	Name        string `json:"name"`
	Contact     string `json:"contact"`
	Description string `json:"description"`
}

var primaryResources = []CrisisResource{
	{
		Name:        "988 Suicide & Crisis Lifeline",
		Contact:     "Call or text 988",
		Description: "Free, confidential support 24/7",
	},
	{
		Name:        "Crisis Text Line",
		Contact:     "Text HOME to 741741",
		Description: "Text with a trained crisis counselor",
	},
	{
		Name:        "Emergency Services",
		Contact:     "Call 911",
		Description: "If you are in immediate danger",
	},
}

var secondaryResources = []CrisisResource{
	{
		Name:        "The Trevor Project",
		Contact:     "Call 1-866-488-7386",
		Description: "Crisis support for LGBTQ+ young people",
	},
	{
		Name:        "Childhelp National Child Abuse Hotline",
		Contact:     "Call or text 1-800-422-4453",
		Description: "Support for abuse and neglect",
	},
}

// PrimaryResources returns the always-shown crisis resources.
func PrimaryResources() []CrisisResource {
	out := make([]CrisisResource, len(primaryResources))
	copy(out, primaryResources)
	return out
}

// ResourcesFor returns the resource list for a pivot at the given level.
// Critical and high risk add the population-specific secondary lines.
func ResourcesFor(level RiskLevel) []CrisisResource {
	out := PrimaryResources()
	if level.AtLeast(RiskHigh) {
		out = append(out, secondaryResources...)
	}
	return out
}

// PivotTypeFor selects presentation prominence from risk severity.
func PivotTypeFor(level RiskLevel) PivotType {
	switch {
	case level.AtLeast(RiskCritical):
		return PivotFullScreen
	case level.AtLeast(RiskHigh):
		return PivotOverlay
	default:
		return PivotInline
	}
}

const (
	pivotMessage = "Thank you for telling me. What you're feeling matters, and you deserve support right now. " +
		"The screening can wait. Here are people who can help immediately, and I need to check in with you first: are you safe right now?"

	resumeMessage = "I'm glad you're safe. We can pick the screening back up whenever you're ready. " +
		"Those support lines are always there if anything changes."

	needHelpMessage = "Reaching out takes courage. Please contact one of the resources above right now, they are available around the clock. " +
		"A member of our care team will also follow up with you."

	exitMessage = "That's completely okay. The screening is closed and nothing you shared is lost. " +
		"Please keep these numbers close, and reach out whenever you're ready."
)

// PivotResult describes the safety pivot to present to the user.
type PivotResult struct {
	PivotType PivotType
	Message   string
	Resources []CrisisResource
}

// SafetyOutcome is the result of a user's pivot answer.
type SafetyOutcome struct {
	Action             string // "resumed", "paused", "ended"
	Message            string
	Resources          []CrisisResource
	ConversationStatus Status
}

// SafetyPivotController owns the crisis interruption state machine: it
// pauses the conversation when a pivot fires and applies the user's pivot
// answer. All status writes go through the store's compare-and-set.
type SafetyPivotController struct {
	store  Store
	logger *logging.Logger
}

func NewSafetyPivotController(store Store, logger *logging.Logger) *SafetyPivotController {
	if store == nil {
		panic("screener: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SafetyPivotController{store: store, logger: logger}
}

// InitiatePivot pauses an active conversation for a crisis event and returns
// the pivot presentation. The event is marked as shown.
func (c *SafetyPivotController) InitiatePivot(ctx context.Context, conv *Conversation, event *CrisisEvent) (*PivotResult, error) {
	ctx, span := pivotTracer.Start(ctx, "pivot.initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("screener.conversation_id", conv.ID.String()),
		attribute.String("screener.risk_level", string(event.RiskLevel)),
	)

	if err := c.store.UpdateConversationStatus(ctx, conv.ID, StatusActive, StatusCrisisPaused); err != nil {
		return nil, fmt.Errorf("screener: pause for safety pivot: %w", err)
	}
	conv.Status = StatusCrisisPaused

	if err := c.store.MarkPivotShown(ctx, event.ID); err != nil {
		return nil, fmt.Errorf("screener: mark pivot shown: %w", err)
	}
	event.PivotShown = true

	c.logger.Warn("safety pivot initiated",
		"conversation_id", conv.ID,
		"crisis_event_id", event.ID,
		"risk_level", event.RiskLevel,
	)

	return &PivotResult{
		PivotType: PivotTypeFor(event.RiskLevel),
		Message:   pivotMessage,
		Resources: ResourcesFor(event.RiskLevel),
	}, nil
}

// ApplyResponse records the user's answer to a pending pivot and moves the
// conversation accordingly. Unknown answers change nothing.
func (c *SafetyPivotController) ApplyResponse(ctx context.Context, conv *Conversation, event *CrisisEvent, response SafetyResponse) (*SafetyOutcome, error) {
	ctx, span := pivotTracer.Start(ctx, "pivot.apply_response")
	defer span.End()
	span.SetAttributes(
		attribute.String("screener.conversation_id", conv.ID.String()),
		attribute.String("screener.safety_response", string(response)),
	)

	if conv.Status != StatusCrisisPaused {
		return nil, ErrNoPendingPivot
	}

	switch response {
	case SafetySafe:
		if err := c.store.RecordPivotResponse(ctx, event.ID, response, false); err != nil {
			return nil, fmt.Errorf("screener: record pivot response: %w", err)
		}
		if err := c.store.ResolveCrisisEvent(ctx, event.ID, "user", "user confirmed safe"); err != nil {
			return nil, fmt.Errorf("screener: resolve crisis event: %w", err)
		}
		if err := c.store.UpdateConversationStatus(ctx, conv.ID, StatusCrisisPaused, StatusActive); err != nil {
			return nil, fmt.Errorf("screener: resume conversation: %w", err)
		}
		conv.Status = StatusActive
		return &SafetyOutcome{
			Action:             "resumed",
			Message:            resumeMessage,
			ConversationStatus: StatusActive,
		}, nil

	case SafetyNeedHelp:
		// Conversation stays paused until a clinician closes the loop.
		if err := c.store.RecordPivotResponse(ctx, event.ID, response, true); err != nil {
			return nil, fmt.Errorf("screener: record pivot response: %w", err)
		}
		c.logger.Warn("user requested help during safety pivot",
			"conversation_id", conv.ID,
			"crisis_event_id", event.ID,
		)
		return &SafetyOutcome{
			Action:             "paused",
			Message:            needHelpMessage,
			Resources:          ResourcesFor(event.RiskLevel),
			ConversationStatus: StatusCrisisPaused,
		}, nil

	case SafetyExit:
		if err := c.store.RecordPivotResponse(ctx, event.ID, response, false); err != nil {
			return nil, fmt.Errorf("screener: record pivot response: %w", err)
		}
		if err := c.store.UpdateConversationStatus(ctx, conv.ID, StatusCrisisPaused, StatusAbandoned); err != nil {
			return nil, fmt.Errorf("screener: end conversation: %w", err)
		}
		conv.Status = StatusAbandoned
		return &SafetyOutcome{
			Action:             "ended",
			Message:            exitMessage,
			Resources:          ResourcesFor(event.RiskLevel),
			ConversationStatus: StatusAbandoned,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownSafetyResponse, response)
}
