package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt steers the model toward complete, runnable scripts.
const DefaultSystemPrompt = `You are a Python scripting assistant.
Respond with a single complete Python 3 script inside one fenced code block.
The script must be self-contained and runnable as-is. Prefer the standard
library; only import third-party packages when the task requires them.
Do not include explanations outside the code block.`

// Profile defines a generation style: which provider and model to use and
// how the system prompt frames the task.
type Profile struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LoadProfile reads a generation profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}

	if p.SystemPrompt == "" {
		p.SystemPrompt = DefaultSystemPrompt
	}
	return &p, nil
}
