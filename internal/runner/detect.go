package runner

import "strings"

// interactiveMarkers flag scripts that need a real terminal or display:
// blocking prompts, GUI toolkits, plot windows. Matching any marker routes
// the run to Interactive mode.
var interactiveMarkers = []string{
	"input(",
	"getpass",
	"pygame",
	"turtle",
	"tkinter",
	"curses",
	"cv2.imshow",
	"plt.show",
	"matplotlib",
}

// NeedsInteractive reports whether the source looks like it expects a
// terminal or display of its own. Purely textual, so it can false-positive
// on strings and comments; callers may let the user override.
func NeedsInteractive(source string) bool {
	for _, m := range interactiveMarkers {
		if strings.Contains(source, m) {
			return true
		}
	}
	return false
}
