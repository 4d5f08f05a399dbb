package hub

import "github.com/pkg/errors"

// AgentMode selects which backend agent pipeline handles a message. The mode
// travels with every ProcessMessage invocation; switching it mid-conversation
// resets that conversation's turn history on the client.
type AgentMode string

const (
	ModeAzureOnly            AgentMode = "AzureOnly"
	ModeTutorOnly            AgentMode = "TutorOnly"
	ModeQuizOnly             AgentMode = "QuizOnly"
	ModeHandoffOrchestration AgentMode = "HandoffOrchestration"
)

// Modes lists all agent modes in display order.
func Modes() []AgentMode {
	return []AgentMode{ModeAzureOnly, ModeTutorOnly, ModeQuizOnly, ModeHandoffOrchestration}
}

var modeLabels = map[AgentMode]string{
	ModeAzureOnly:            "Azure AI",
	ModeTutorOnly:            "Tutor",
	ModeQuizOnly:             "Quiz",
	ModeHandoffOrchestration: "Smart Handoff",
}

var modeDescriptions = map[AgentMode]string{
	ModeAzureOnly:            "Direct Azure AI assistance",
	ModeTutorOnly:            "Educational tutoring assistant",
	ModeQuizOnly:             "Interactive quiz generator",
	ModeHandoffOrchestration: "Intelligent agent switching",
}

func (m AgentMode) Label() string {
	if l, ok := modeLabels[m]; ok {
		return l
	}
	return string(m)
}

func (m AgentMode) Description() string {
	return modeDescriptions[m]
}

func (m AgentMode) Valid() bool {
	_, ok := modeLabels[m]
	return ok
}

// ParseMode validates a mode string received from config or user input.
func ParseMode(s string) (AgentMode, error) {
	m := AgentMode(s)
	if !m.Valid() {
		return "", errors.Errorf("unknown agent mode %q", s)
	}
	return m, nil
}
