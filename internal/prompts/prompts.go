package prompts

// DefaultSystem is the fallback instructions for the voice turn
// machine's assistant persona when none is configured.
const DefaultSystem = "You are a helpful, concise voice assistant. Keep replies short and conversational."

// ForSession resolves the final system prompt for a voice session.
func ForSession(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSystem
}
