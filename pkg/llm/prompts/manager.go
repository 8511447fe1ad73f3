package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"strings"
	"text/template"

	"skytour/pkg/model"
)

// Template names.
const (
	Narration = "narration.tmpl"
	Voice     = "voice.tmpl"
)

//go:embed templates
var builtin embed.FS

// NarrationData is the context rendered into the narration prompt.
type NarrationData struct {
	Lang        model.Language
	Callsign    string
	Experience  model.ExperienceLevel
	POIName     string
	Category    model.Category
	Description string
	DistanceM   float64
	Direction   string
	AltitudeM   float64
	SpeedKmh    float64
	Trigger     model.TriggerPhase
	TimeOfDay   model.TimeOfDay
	Zone        string
	Preferences []string
	History     []model.HistoryEntry
}

// NearbyPOI is one entry of the voice prompt's surroundings list.
type NearbyPOI struct {
	Name        string
	Category    model.Category
	Description string
	DistanceM   float64
	Direction   string
}

// VoiceData is the context rendered into the voice answer prompt.
type VoiceData struct {
	Lang       model.Language
	Callsign   string
	Experience model.ExperienceLevel
	Question   string
	Lat        float64
	Lon        float64
	AltitudeM  float64
	SpeedKmh   float64
	Heading    float64
	Zone       string
	Nearby     []NearbyPOI
}

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// NewDefault loads the built-in templates, or the ones under dir if set.
func NewDefault(dir string) (*Manager, error) {
	if dir != "" {
		return NewManager(os.DirFS(dir))
	}
	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		return nil, err
	}
	return NewManager(sub)
}

// NewManager loads every *.tmpl in fsys. Files under common/ are parsed
// first so their {{define}} blocks are visible to the rest.
func NewManager(fsys fs.FS) (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"isKo":         isKo,
		"triggerLabel": triggerLabel,
		"round":        roundFunc,
		"join":         strings.Join,
		"truncate":     truncateFunc,
		"inc":          func(i int) int { return i + 1 },
	})

	if err := m.load(fsys, true); err != nil {
		return nil, fmt.Errorf("loading common templates: %w", err)
	}
	if err := m.load(fsys, false); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return m, nil
}

func (m *Manager) load(fsys fs.FS, common bool) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".tmpl" {
			return nil
		}
		if strings.HasPrefix(p, "common/") != common {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}

		t := m.root
		if !common {
			t = m.root.New(p)
		}
		if _, err := t.Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Narration renders the narration prompt.
func (m *Manager) Narration(d NarrationData) (string, error) {
	return m.Render(Narration, d)
}

// Voice renders the voice answer prompt.
func (m *Manager) Voice(d VoiceData) (string, error) {
	return m.Render(Voice, d)
}

func isKo(lang model.Language) bool {
	return lang != model.LangEnglish
}

var triggerLabels = map[model.TriggerPhase][2]string{
	model.Approaching: {"접근 중 - 소개 멘트", "Approaching - Introduction"},
	model.Passing:     {"통과 중 - 핵심 정보", "Passing - Key Information"},
	model.Departing:   {"이탈 중 - 마무리 + 다음 추천", "Departing - Wrap-up + Next suggestion"},
}

func triggerLabel(t model.TriggerPhase, lang model.Language) string {
	l, ok := triggerLabels[t]
	if !ok {
		return string(t)
	}
	if isKo(lang) {
		return l[0]
	}
	return l[1]
}

func roundFunc(v float64) int {
	return int(math.Round(v))
}

// truncateFunc cuts s to n runes.
func truncateFunc(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
