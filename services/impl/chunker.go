package impl

import "strings"

// chunkSeparators are tried coarsest-first; descent stops at the first
// level whose fragments fit under the chunk size. The empty separator is
// the terminal hard split.
var chunkSeparators = []string{"\n\n", "\n", " ", ""}

// SplitText splits text into chunks of at most size characters, where
// consecutive chunks share an overlap-character tail. Splitting prefers
// paragraph, then line, then word boundaries before cutting mid-word.
// Concatenating the chunks minus the overlap seeds reproduces the input.
func SplitText(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}
	fragments := fragment(text, size, chunkSeparators)
	return mergeFragments(fragments, size, overlap)
}

// fragment recursively breaks text into pieces no longer than size,
// descending to finer separators only for pieces that are still too big.
// SplitAfter keeps separators attached so no character is ever dropped.
func fragment(text string, size int, separators []string) []string {
	if runeLen(text) <= size {
		return []string{text}
	}
	if len(separators) == 0 {
		return []string{text}
	}
	sep := separators[0]
	if sep == "" {
		return hardSplit(text, size)
	}
	var out []string
	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if runeLen(piece) > size {
			out = append(out, fragment(piece, size, separators[1:])...)
		} else {
			out = append(out, piece)
		}
	}
	return out
}

// hardSplit cuts text into size-rune runs with no regard for boundaries.
func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergeFragments greedily packs fragments into chunks up to size, seeding
// each new chunk with the overlap tail of the one just emitted.
func mergeFragments(fragments []string, size, overlap int) []string {
	var chunks []string
	var current string
	for _, frag := range fragments {
		if current != "" && runeLen(current)+runeLen(frag) > size {
			chunks = append(chunks, current)
			current = tailRunes(current, overlap)
		}
		current += frag
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func runeLen(s string) int {
	return len([]rune(s))
}
