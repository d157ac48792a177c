package safety

// NegativeSentimentThreshold is the score below which generated text is rejected.
const NegativeSentimentThreshold = -0.3

// Sentiment averages lexicon weights over the lexicon-bearing words of text,
// clamped to [-1, 1]. Text without lexicon words scores 0.
func (l *Lexicon) Sentiment(text string) float64 {
	var score float64
	hits := 0
	for _, tok := range tokens(text) {
		if w, ok := l.negative[tok]; ok {
			score += w
			hits++
			continue
		}
		if w, ok := l.positive[tok]; ok {
			score += w
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	avg := score / float64(hits)
	if avg > 1 {
		return 1
	}
	if avg < -1 {
		return -1
	}
	return avg
}
