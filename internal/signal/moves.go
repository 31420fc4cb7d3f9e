package signal

import "github.com/ent0n29/resonance/internal/lexicon"

// MoveUnknown is recorded when no conversational move is recognized.
const MoveUnknown = "unknown"

// DetectMove classifies the conversational move a reply makes. The first
// lexicon move with a matching phrase wins.
func DetectMove(lx *lexicon.Lexicon, reply string) string {
	if lx == nil {
		lx = lexicon.Default()
	}
	norm := lexicon.Normalize(reply)
	for _, m := range lx.Moves {
		if m.Any(norm) {
			return m.Name
		}
	}
	return MoveUnknown
}
