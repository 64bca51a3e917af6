package command

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExerciseType maps colloquial spellings to one canonical label.
type ExerciseType struct {
	Name     string   `yaml:"name"`
	Variants []string `yaml:"variants"`
}

// Vocabulary is an ordered exercise lookup table. A variant matches only as
// whole words of the phrase; the longest matching variant wins and order
// breaks ties.
type Vocabulary struct {
	types []ExerciseType
}

var defaultExercises = []ExerciseType{
	{"pushup", []string{"pushup", "pushups", "push-up", "push-ups", "push up", "push ups", "puships", "pushes", "press ups"}},
	{"squat", []string{"squat", "squats", "air squat", "air squats", "bodyweight squat", "body weight squats", "squads"}},
	{"pullup", []string{"pullup", "pullups", "pull-up", "pull-ups", "pull up", "pull ups", "chin up", "chin ups", "chinups"}},
	{"burpee", []string{"burpee", "burpees", "burpies"}},
	{"situp", []string{"situp", "situps", "sit-up", "sit-ups", "sit up", "sit ups", "crunches", "crunch"}},
	{"plank", []string{"plank", "planks", "planking", "plank hold"}},
	{"jumping jack", []string{"jumping jack", "jumping jacks", "jumpingjack", "jumpingjacks", "star jumps"}},
	{"mountain climber", []string{"mountain climber", "mountain climbers", "mountainclimber", "mountain climbs"}},
	{"lunge", []string{"lunge", "lunges", "walking lunge", "walking lunges"}},
	{"run", []string{"run", "running", "jog", "jogging", "sprint", "sprinting"}},
	{"step up", []string{"step up", "step ups", "step-up", "step-ups", "stepups"}},
	{"walk", []string{"walk", "walking", "steps", "step"}},
}

// DefaultVocabulary returns the built-in exercise table.
func DefaultVocabulary() *Vocabulary {
	types := make([]ExerciseType, len(defaultExercises))
	copy(types, defaultExercises)
	return &Vocabulary{types: types}
}

type vocabularyFile struct {
	Exercises []ExerciseType `yaml:"exercises"`
}

// LoadVocabulary reads additional exercise types from a YAML file. Entries
// from the file take precedence over built-in types with the same name.
func LoadVocabulary(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var f vocabularyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}

	seen := make(map[string]bool, len(f.Exercises))
	var types []ExerciseType
	for _, t := range f.Exercises {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			return nil, fmt.Errorf("parse vocabulary: exercise without a name")
		}
		variants := make([]string, 0, len(t.Variants)+1)
		variants = append(variants, name)
		for _, v := range t.Variants {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				variants = append(variants, v)
			}
		}
		seen[name] = true
		types = append(types, ExerciseType{Name: name, Variants: variants})
	}
	for _, t := range defaultExercises {
		if !seen[t.Name] {
			types = append(types, t)
		}
	}
	return &Vocabulary{types: types}, nil
}

// Normalize maps a captured exercise phrase to its canonical label. Unknown
// phrases fall back to the phrase with a trailing plural "s" removed.
func (v *Vocabulary) Normalize(phrase string) string {
	p := strings.ToLower(strings.TrimSpace(phrase))
	best, bestLen := "", 0
	for _, t := range v.types {
		for _, variant := range t.Variants {
			if len(variant) > bestLen && containsWords(p, variant) {
				best, bestLen = t.Name, len(variant)
			}
		}
	}
	if best != "" {
		return best
	}
	return strings.TrimSuffix(p, "s")
}

// containsWords reports whether sub occurs in s bounded by non-alphanumeric
// characters or the ends of s.
func containsWords(s, sub string) bool {
	if sub == "" {
		return false
	}
	for from := 0; from+len(sub) <= len(s); {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(sub)
		if !wordByteAt(s, start-1) && !wordByteAt(s, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func wordByteAt(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80
}
