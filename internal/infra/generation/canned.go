package generation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
)

// Canned answers with one of a few fixed plans. It stands in for a real
// model backend and never fails.
type Canned struct {
	pick func(n int) int
}

func NewCanned() *Canned {
	return &Canned{pick: rand.IntN}
}

func (c *Canned) Generate(_ context.Context, message, _ string) (string, error) {
	replies := cannedReplies(message)
	return replies[c.pick(len(replies))], nil
}

func cannedReplies(message string) []string {
	return []string{
		fmt.Sprintf(`I understand you want to %s. Let me help you with that!

Here's my approach:
1. I'll analyze the requirements
2. Create the necessary components
3. Implement the core functionality
4. Add styling and polish

Would you like me to proceed with a specific aspect first?`, strings.ToLower(message)),

		fmt.Sprintf(`Great question! Based on your request about "%s...", here's what I suggest:

**Implementation Plan:**
- Set up the project structure
- Create reusable components
- Implement state management
- Add responsive styling

Let me know if you'd like more details on any part!`, firstRunes(message, 50)),

		`I'll help you with that! Here's a breakdown of what we need to do:

1. **Architecture**: Define the component structure
2. **Data Flow**: Set up state and props
3. **Styling**: Apply modern CSS/Tailwind
4. **Interactions**: Add animations and user feedback

Shall I start with a specific component?`,
	}
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
