package optimizer

import (
	_ "embed"
)

// System instructions shared by every jury and refinement call.
var (
	//go:embed prompts/jury.txt
	juryPrompt string

	//go:embed prompts/rewriter.txt
	rewriterPrompt string
)
