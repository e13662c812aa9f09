// Package ui renders check results and stored samples for the terminal.
//
// Output is plain text styled with Lip Gloss. Colors degrade to monochrome
// when stdout is not a terminal, NO_COLOR is set, or --no-color is passed.
//
// # Color Scheme
//
//	ColorSuccess (green)  - healthy verdicts, offsets well inside the limit
//	ColorWarning (yellow) - offsets approaching the limit
//	ColorError   (red)    - problems and offsets over the limit
//	ColorMuted   (gray)   - labels and timestamps
//
// # Symbols
//
//	SymbolSuccess (checkmark) - healthy
//	SymbolFail    (X)         - unhealthy or unreachable
//	SymbolWarn    (triangle)  - nothing to show yet
package ui
