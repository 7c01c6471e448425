// Package chunker splits chapter prose into overlapping word windows sized
// for the rewrite backend's context limits.
package chunker

import "strings"

// MinProseWords is the threshold below which a chapter is treated as
// non-prose (cover page, image-only page) and passed through unchanged.
const MinProseWords = 5

// Split slices text into windows of chunkSize words. Each window after the
// first starts overlap words before the previous window's end, so
// consecutive windows share exactly overlap words. The final window ends at
// the last word, never padded. Windows are indexed left to right and fully
// cover the text.
//
// Texts shorter than MinProseWords yield no windows.
func Split(text string, chunkSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) < MinProseWords {
		return nil
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}

	var windows []string
	start := 0
	for start < len(words) {
		end := start + chunkSize
		if end > len(words) {
			end = len(words)
		}
		windows = append(windows, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}
		start = end - overlap
	}
	return windows
}

// Count returns the number of windows Split would produce without building
// them. Used for progress accounting.
func Count(text string, chunkSize, overlap int) int {
	words := len(strings.Fields(text))
	if words < MinProseWords {
		return 0
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	if words <= chunkSize {
		return 1
	}
	stride := chunkSize - overlap
	// First window covers chunkSize words, each stride adds a window.
	n := 1 + (words-chunkSize+stride-1)/stride
	return n
}
