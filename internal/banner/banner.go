package banner

import (
	"github.com/charmbracelet/lipgloss"

	"maxpop/internal/tui/styles"
)

const ascii = `
   ____ ___  ____ __  ______  ____  ____
  / __ '__ \/ __ '/ |/_/ __ \/ __ \/ __ \
 / / / / / / /_/ />  </ /_/ / /_/ / /_/ /
/_/ /_/ /_/\__,_/_/|_/ .___/\____/ .___/
                    /_/         /_/`

// GetString renders the banner shown above command help.
func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorPrimary).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n" + styles.Subtle.Render("  finds the pop rate a queue service sustains") + "\n"
}
