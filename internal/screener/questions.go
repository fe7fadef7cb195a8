package screener

// Question is one item of a screening instrument. Answers are on a 0-4
// Likert scale (never, rarely, sometimes, often, always).
type Question struct {
	ID   string
	Text string
}

// LikertMax is the highest legal answer value.
const LikertMax = 4

// phq9aQuestions is the adolescent PHQ-9 item bank. IDs are stable and
// referenced by stored screener responses, so never renumber them.
var phq9aQuestions = []Question{
	{ID: "phq9a_1", Text: "Over the last two weeks, how often have you had little interest or pleasure in doing things?"},
	{ID: "phq9a_2", Text: "How often have you been feeling down, depressed, irritable, or hopeless?"},
	{ID: "phq9a_3", Text: "How often have you had trouble falling asleep, staying asleep, or sleeping too much?"},
	{ID: "phq9a_4", Text: "How often have you been feeling tired or having little energy?"},
	{ID: "phq9a_5", Text: "How often have you had a poor appetite, weight loss, or been overeating?"},
	{ID: "phq9a_6", Text: "How often have you felt bad about yourself, or that you are a failure, or that you have let yourself or your family down?"},
	{ID: "phq9a_7", Text: "How often have you had trouble concentrating on things like schoolwork, reading, or watching TV?"},
	{ID: "phq9a_8", Text: "How often have you been moving or speaking so slowly that other people noticed, or the opposite, being fidgety or restless?"},
	{ID: "phq9a_9", Text: "How often have you been bothered by thoughts that you would be better off dead, or of hurting yourself in some way?"},
}

var anxiety5Questions = []Question{
	{ID: "anx5_1", Text: "Over the last two weeks, how often have you felt nervous, anxious, or on edge?"},
	{ID: "anx5_2", Text: "How often have you not been able to stop or control worrying?"},
	{ID: "anx5_3", Text: "How often have you worried too much about different things?"},
	{ID: "anx5_4", Text: "How often have you had trouble relaxing?"},
	{ID: "anx5_5", Text: "How often have you felt afraid, as if something awful might happen?"},
}

// broadband17Questions is a 17-item broadband symptom checklist covering
// attention, internalizing, and externalizing domains.
var broadband17Questions = []Question{
	{ID: "bb17_1", Text: "How often do you fidget or find it hard to sit still?"},
	{ID: "bb17_2", Text: "How often do you daydream too much or have trouble paying attention?"},
	{ID: "bb17_3", Text: "How often do you act as if driven by a motor?"},
	{ID: "bb17_4", Text: "How often do you get distracted easily?"},
	{ID: "bb17_5", Text: "How often do you have trouble finishing things you start?"},
	{ID: "bb17_6", Text: "How often do you feel sad or unhappy?"},
	{ID: "bb17_7", Text: "How often do you feel hopeless about things?"},
	{ID: "bb17_8", Text: "How often do you feel down on yourself?"},
	{ID: "bb17_9", Text: "How often do you worry a lot?"},
	{ID: "bb17_10", Text: "How often do you seem to be having less fun than you used to?"},
	{ID: "bb17_11", Text: "How often do you fight with other people?"},
	{ID: "bb17_12", Text: "How often do you not listen to rules?"},
	{ID: "bb17_13", Text: "How often do you not understand other people's feelings?"},
	{ID: "bb17_14", Text: "How often do you tease others?"},
	{ID: "bb17_15", Text: "How often do you blame others for your troubles?"},
	{ID: "bb17_16", Text: "How often do you refuse to share?"},
	{ID: "bb17_17", Text: "How often do you take things that do not belong to you?"},
}

var questionBanks = map[ScreenerType][]Question{
	ScreenerPHQ9A:       phq9aQuestions,
	ScreenerAnxiety5:    anxiety5Questions,
	ScreenerBroadband17: broadband17Questions,
}

// Questions returns the ordered item bank for an instrument.
func Questions(st ScreenerType) []Question {
	return questionBanks[st]
}

// TotalQuestions returns the item count for an instrument, zero if unknown.
func TotalQuestions(st ScreenerType) int {
	return len(questionBanks[st])
}

// QuestionAt returns the question at index idx, or false when idx is past
// the end of the instrument.
func QuestionAt(st ScreenerType, idx int) (Question, bool) {
	bank := questionBanks[st]
	if idx < 0 || idx >= len(bank) {
		return Question{}, false
	}
	return bank[idx], true
}

// QuestionByID looks a question up by its stable id.
func QuestionByID(st ScreenerType, id string) (Question, bool) {
	for _, q := range questionBanks[st] {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// MaxScore returns the highest possible total for an instrument.
func MaxScore(st ScreenerType) int {
	return TotalQuestions(st) * LikertMax
}

// SeverityBand maps a total score to a reporting band for the instrument.
func SeverityBand(st ScreenerType, score int) string {
	switch st {
	case ScreenerPHQ9A:
		switch {
		case score < 5:
			return "minimal"
		case score < 10:
			return "mild"
		case score < 15:
			return "moderate"
		case score < 20:
			return "moderately_severe"
		default:
			return "severe"
		}
	case ScreenerAnxiety5:
		switch {
		case score < 4:
			return "minimal"
		case score < 8:
			return "mild"
		case score < 13:
			return "moderate"
		default:
			return "severe"
		}
	case ScreenerBroadband17:
		if score < 15 {
			return "below_threshold"
		}
		return "elevated"
	}
	return "unknown"
}
