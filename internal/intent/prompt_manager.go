package intent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPrompt is used when no prompt directory is configured or it holds
// no prompt files.
const DefaultPrompt = `You are the intent classifier of a personal assistant.
Read the user's latest message and call classify_intent exactly once.
Pick the single intent that best matches the request and extract the entities
the assistant needs (titles, dates as YYYY-MM-DD, times as YYYY-MM-DD HH:MM,
recipients, message text, URLs). Use "unknown" when nothing fits.
Never answer the user directly.`

type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetClassifierPrompt concatenates the .md files of the prompt directory in a
// fixed order, falling back to DefaultPrompt.
func (pm *PromptManager) GetClassifierPrompt() (string, error) {
	if pm == nil || pm.Directory == "" {
		return DefaultPrompt, nil
	}
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPrompt, nil
		}
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	order := map[string]int{
		"identity.md":   1,
		"classifier.md": 2,
		"entities.md":   3,
		"user.md":       4,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return DefaultPrompt, nil
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}
