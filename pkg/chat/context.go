package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const baseSystemContext = "Sei l'assistente virtuale di Vantyx. Rispondi in italiano, " +
	"in modo conciso e cordiale, usando solo le informazioni sugli argomenti elencati. " +
	"Se la domanda esce dagli argomenti, dillo apertamente."

// Topic is one entry of the knowledge file the system context is built from.
type Topic struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// LoadTopics reads the JSON knowledge file. A missing file is not an error;
// the assistant then runs with the base context only.
func LoadTopics(path string) ([]Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read topics: %w", err)
	}
	var topics []Topic
	if err := json.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	return topics, nil
}

// SystemContext renders the system prompt from the loaded topics.
func SystemContext(topics []Topic) string {
	if len(topics) == 0 {
		return baseSystemContext
	}
	var b strings.Builder
	b.WriteString(baseSystemContext)
	b.WriteString("\n\nArgomenti:\n")
	for _, t := range topics {
		fmt.Fprintf(&b, "- %s: %s\n", t.Title, t.Description)
	}
	return b.String()
}
