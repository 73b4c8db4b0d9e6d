package history

// CharsPerToken is the fixed ratio used to estimate tokens from text length.
// Real tokenizers average closer to four bytes per token for English prose, so
// three bytes per token over-counts; estimates are never below the true count
// for typical text, which keeps every budget check conservative.
const CharsPerToken = 3

// EstimateTokens approximates the token count of text as ceil(bytes / CharsPerToken).
// Multibyte runes count once per byte.
func EstimateTokens(text string) int {
	return tokensForBytes(len(text))
}

func tokensForBytes(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}
