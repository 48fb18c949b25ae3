package knowledge

const (
	// DefaultChunkSize is the chunk length in characters.
	DefaultChunkSize = 512
	// DefaultBleed is how many characters consecutive chunks share.
	DefaultBleed = 20
)

// Chunk splits text into overlapping runs of up to size characters, with
// bleed characters of overlap between consecutive chunks. Chunk boundaries
// count runes, not bytes, so multibyte text never splits mid-character.
//
// A non-positive size falls back to DefaultChunkSize; a bleed that is
// negative or would prevent forward progress falls back to DefaultBleed
// (clamped below size).
func Chunk(text string, size, bleed int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if bleed < 0 || bleed >= size {
		bleed = DefaultBleed
		if bleed >= size {
			bleed = size / 2
		}
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	step := size - bleed
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
