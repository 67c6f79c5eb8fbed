package extract

import "strings"

// ChunkText splits text into overlapping word windows. Words are whitespace
// tokens; each chunk holds up to size words and consecutive chunks share
// overlap words, so every word lands in at least one chunk. Empty or
// whitespace-only input yields nil.
func ChunkText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
