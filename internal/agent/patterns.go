package agent

import "strings"

// GameArchetype is a coarse classification used to pick plausible inputs
// before spending a vision call.
type GameArchetype string

const (
	ArchetypePlatformer GameArchetype = "platformer"
	ArchetypeClicker    GameArchetype = "clicker"
	ArchetypePuzzle     GameArchetype = "puzzle"
	ArchetypeGeneric    GameArchetype = "generic"
)

// ArchetypePattern is one entry in the heuristic library: the input scheme
// a game of this archetype most likely responds to.
type ArchetypePattern struct {
	Archetype    GameArchetype
	Keys         []string
	ClickPoints  [][2]float64
	ControlHints []string
}

// archetypeLibrary maps each archetype to its input scheme. Key orders put
// the most commonly useful input first.
var archetypeLibrary = map[GameArchetype]ArchetypePattern{
	ArchetypePlatformer: {
		Archetype:    ArchetypePlatformer,
		Keys:         []string{"ArrowRight", "Space", "ArrowUp", "ArrowRight", "ArrowLeft"},
		ControlHints: []string{"Arrow keys to move", "Space to jump"},
	},
	ArchetypePuzzle: {
		Archetype:    ArchetypePuzzle,
		Keys:         []string{"ArrowLeft", "ArrowRight", "ArrowDown", "z", "x", "Space"},
		ControlHints: []string{"Arrow keys to move", "Z/X to rotate", "Space to drop"},
	},
	ArchetypeClicker: {
		Archetype: ArchetypeClicker,
		// Normalized viewport positions: center first, then the quadrants.
		ClickPoints: [][2]float64{
			{0.5, 0.5}, {0.3, 0.3}, {0.7, 0.3}, {0.3, 0.7}, {0.7, 0.7},
		},
		ControlHints: []string{"Click to interact"},
	},
	ArchetypeGeneric: {
		Archetype:    ArchetypeGeneric,
		Keys:         []string{"Space", "Enter", "ArrowUp", "ArrowRight", "ArrowDown", "ArrowLeft"},
		ClickPoints:  [][2]float64{{0.5, 0.5}},
		ControlHints: []string{"Arrow keys or mouse"},
	},
}

// PatternFor returns the library entry for an archetype, falling back to the
// generic pattern.
func PatternFor(archetype GameArchetype) ArchetypePattern {
	if p, ok := archetypeLibrary[archetype]; ok {
		return p
	}
	return archetypeLibrary[ArchetypeGeneric]
}

var (
	platformerMarkers = []string{"platform", "jump", "runner", "mario", "side-scroll"}
	puzzleMarkers     = []string{"puzzle", "tetris", "match", "rotate", "block", "2048"}
	clickerMarkers    = []string{"click", "mouse", "tap", "idle", "point and click", "card"}
)

// DetectArchetype classifies the game from the control hint, the page title,
// and the URL. Generic when nothing matches.
func DetectArchetype(dom *DOMAnalysis, inputHint string) GameArchetype {
	haystack := strings.ToLower(inputHint)
	if dom != nil {
		haystack += " " + strings.ToLower(dom.Title) + " " + strings.ToLower(dom.URL)
	}

	for _, m := range platformerMarkers {
		if strings.Contains(haystack, m) {
			return ArchetypePlatformer
		}
	}
	for _, m := range puzzleMarkers {
		if strings.Contains(haystack, m) {
			return ArchetypePuzzle
		}
	}
	for _, m := range clickerMarkers {
		if strings.Contains(haystack, m) {
			return ArchetypeClicker
		}
	}
	return ArchetypeGeneric
}

// startLexicon matches button text that advances past menus and splash
// screens. Shared by the heuristic layer and the DOM-button recovery pass.
var startLexicon = []string{
	"start", "play", "begin", "continue", "go", "new game", "retry", "resume",
}

// MatchesStartLexicon reports whether element text looks like a start/play
// control. Long text is rejected to avoid matching paragraphs that merely
// mention "play".
func MatchesStartLexicon(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" || len(t) > 40 {
		return false
	}
	for _, word := range startLexicon {
		if t == word || strings.Contains(t, word) {
			return true
		}
	}
	return false
}
