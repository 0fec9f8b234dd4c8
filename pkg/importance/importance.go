// Package importance scores memory content with language-agnostic statistical
// features: lexical diversity, structural specificity, salience markers,
// Ebbinghaus temporal decay and spaced-repetition access patterns. No keyword
// lists are used anywhere; every signal is structural.
package importance

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Weights controls the contribution of each factor in Calculate.
type Weights struct {
	Content    float64
	Temporal   float64
	Access     float64
	Salience   float64
	Structural float64
}

// Config configures the scorer. Zero values fall back to DefaultConfig.
type Config struct {
	Weights Weights

	// Temporal decay (Ebbinghaus forgetting curve).
	HalfLife       time.Duration
	MinDecayFactor float64
	RecencyWindow  time.Duration
	RecencyBoost   float64

	// Access patterns (spaced repetition).
	OptimalInterval time.Duration

	// Base score used when no factor has data.
	BaseScore float64
}

// DefaultConfig returns the recommended scoring defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Content:    0.30,
			Temporal:   0.25,
			Access:     0.20,
			Salience:   0.15,
			Structural: 0.10,
		},
		HalfLife:        168 * time.Hour,
		MinDecayFactor:  0.1,
		RecencyWindow:   24 * time.Hour,
		RecencyBoost:    1.3,
		OptimalInterval: 48 * time.Hour,
		BaseScore:       0.5,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	w := c.Weights
	if w.Content == 0 && w.Temporal == 0 && w.Access == 0 && w.Salience == 0 && w.Structural == 0 {
		c.Weights = defaults.Weights
	}
	if c.HalfLife == 0 {
		c.HalfLife = defaults.HalfLife
	}
	if c.MinDecayFactor == 0 {
		c.MinDecayFactor = defaults.MinDecayFactor
	}
	if c.RecencyWindow == 0 {
		c.RecencyWindow = defaults.RecencyWindow
	}
	if c.RecencyBoost == 0 {
		c.RecencyBoost = defaults.RecencyBoost
	}
	if c.OptimalInterval == 0 {
		c.OptimalInterval = defaults.OptimalInterval
	}
	if c.BaseScore == 0 {
		c.BaseScore = defaults.BaseScore
	}
	return c
}

// Context carries everything known about one memory at scoring time.
// Zero-value fields mean "no data"; Calculate renormalizes over the factors
// that do have data.
type Context struct {
	Content            string
	CreatedAt          time.Time
	Now                time.Time
	History            *AccessHistory
	IncomingLinks      int
	OutgoingLinks      int
	RelationshipCount  int
	QueryContext       string
	SemanticSimilarity float64
}

// Result exposes the sub-scores alongside the final blend.
type Result struct {
	Informativeness float64
	Specificity     float64
	Salience        float64
	EntityDensity   float64
	ContentScore    float64
	TemporalScore   float64
	DecayFactor     float64
	RecencyBonus    float64
	AccessScore     float64
	RetrievalBoost  float64
	StructuralScore float64
	FinalScore      float64
	Confidence      float64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sigmoid(x, midpoint, steepness float64) float64 {
	return 1.0 / (1.0 + math.Exp(-steepness*(x-midpoint)))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func countWords(content string) int {
	count := 0
	inWord := false
	for _, r := range content {
		if isWordRune(r) {
			if !inWord {
				inWord = true
				count++
			}
		} else {
			inWord = false
		}
	}
	return count
}

func countUniqueWords(content string) int {
	seen := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			seen[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range content {
		if isWordRune(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return len(seen)
}

// countCapitalizedWords counts words starting with an upper-case letter,
// skipping the first word of each sentence so sentence-initial capitals do
// not count as entities.
func countCapitalizedWords(content string) int {
	count := 0
	atWordStart := true
	wordCapitalized := false
	afterSentenceEnd := true
	for _, r := range content {
		switch {
		case unicode.IsLetter(r):
			if atWordStart {
				wordCapitalized = unicode.IsUpper(r)
				atWordStart = false
			}
		case unicode.IsSpace(r):
			if wordCapitalized && !afterSentenceEnd {
				count++
			}
			atWordStart = true
			wordCapitalized = false
			afterSentenceEnd = false
		case r == '.' || r == '!' || r == '?':
			if wordCapitalized && !afterSentenceEnd {
				count++
			}
			atWordStart = true
			wordCapitalized = false
			afterSentenceEnd = true
		}
	}
	return count
}

func countNumberSequences(content string) int {
	count := 0
	inNumber := false
	for _, r := range content {
		if unicode.IsDigit(r) {
			if !inNumber {
				count++
				inNumber = true
			}
		} else {
			inNumber = false
		}
	}
	return count
}

// Informativeness blends type-token ratio, average word length and sentence
// structure into [0,1]. Higher lexical diversity and natural word/sentence
// lengths score higher.
func Informativeness(content string) float64 {
	if content == "" {
		return 0
	}
	totalWords := countWords(content)
	if totalWords == 0 {
		return 0
	}

	ttr := float64(countUniqueWords(content)) / float64(totalWords)
	diversityScore := clamp((ttr-0.2)/0.6, 0, 1)

	totalLetters := 0
	for _, r := range content {
		if unicode.IsLetter(r) {
			totalLetters++
		}
	}
	avgWordLen := float64(totalLetters) / float64(totalWords)
	lengthScore := clamp(1.0-math.Abs(avgWordLen-5.5)/4.0, 0, 1)

	sentenceEnds := 0
	for _, r := range content {
		if r == '.' || r == '!' || r == '?' {
			sentenceEnds++
		}
	}
	wordsPerSentence := float64(totalWords)
	if sentenceEnds > 0 {
		wordsPerSentence = float64(totalWords) / float64(sentenceEnds)
	}
	structureScore := clamp(1.0-math.Abs(wordsPerSentence-17.5)/15.0, 0, 1)

	return 0.4*diversityScore + 0.3*lengthScore + 0.3*structureScore
}

// Specificity rewards numbers, proper nouns, word-length variance and
// structured patterns (emails, URLs, date-like digit groups), and penalizes
// a high ratio of short function words.
func Specificity(content string) float64 {
	if content == "" {
		return 0
	}
	wordCount := countWords(content)
	if wordCount == 0 {
		return 0
	}
	score := 0.5

	numberDensity := float64(countNumberSequences(content)) / float64(wordCount)
	score += clamp(numberDensity*0.8, 0, 0.2)

	capRatio := float64(countCapitalizedWords(content)) / float64(wordCount)
	score += clamp(capRatio*0.5, 0, 0.2)

	var totalLen, totalLenSq float64
	wc := 0
	cur := 0
	flush := func() {
		if cur > 0 {
			totalLen += float64(cur)
			totalLenSq += float64(cur * cur)
			wc++
			cur = 0
		}
	}
	for _, r := range content {
		if unicode.IsLetter(r) {
			cur++
		} else {
			flush()
		}
	}
	flush()
	if wc > 1 {
		mean := totalLen / float64(wc)
		variance := totalLenSq/float64(wc) - mean*mean
		varianceScore := 1.0 - math.Exp(-variance/10.0)
		score += clamp(varianceScore*0.15, 0, 0.15)
	}

	if at := strings.IndexByte(content, '@'); at >= 0 && strings.IndexByte(content[at:], '.') > 0 {
		score += 0.1
	}
	if strings.Contains(content, "://") || strings.Contains(content, "www.") {
		score += 0.1
	}
	if hasDateLikePattern(content) {
		score += 0.1
	}

	shortWords := 0
	cur = 0
	for _, r := range content {
		if unicode.IsLetter(r) {
			cur++
		} else {
			if cur > 0 && cur <= 3 {
				shortWords++
			}
			cur = 0
		}
	}
	if cur > 0 && cur <= 3 {
		shortWords++
	}
	shortRatio := float64(shortWords) / float64(wordCount)
	score -= clamp(shortRatio*0.2, 0, 0.1)

	return clamp(score, 0, 1)
}

// hasDateLikePattern reports whether the text contains digits separated by
// '/' or '-', the structural shape of dates, phone numbers and IDs.
func hasDateLikePattern(content string) bool {
	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		if !unicode.IsDigit(runes[i]) {
			continue
		}
		j := i
		for j < len(runes) && unicode.IsDigit(runes[j]) {
			j++
		}
		if j < len(runes) && (runes[j] == '/' || runes[j] == '-') {
			j++
			if j < len(runes) && unicode.IsDigit(runes[j]) {
				return true
			}
		}
		i = j
	}
	return false
}

// Salience scores emphasis: exclamations, questions, quotes, ALL-CAPS words,
// possessives, colons and sentence-length variance.
func Salience(content string) float64 {
	if content == "" {
		return 0
	}
	wordCount := countWords(content)
	if wordCount == 0 {
		return 0
	}
	score := 0.0

	var exclamations, questions, quotes, parens int
	for _, r := range content {
		switch r {
		case '!':
			exclamations++
		case '?':
			questions++
		case '"', '\'':
			quotes++
		case '(', ')':
			parens++
		}
	}
	score += clamp(float64(exclamations)*0.12, 0, 0.2)
	score += clamp(float64(questions)*0.1, 0, 0.15)
	score += clamp(float64(quotes)*0.03, 0, 0.1)
	score += clamp(float64(parens)*0.02, 0, 0.05)

	capsWords := 0
	inWord := false
	allCaps := true
	wordLen := 0
	flushCaps := func() {
		if inWord && allCaps && wordLen >= 2 {
			capsWords++
		}
		inWord = false
		allCaps = true
		wordLen = 0
	}
	for _, r := range content {
		if unicode.IsLetter(r) {
			inWord = true
			wordLen++
			if !unicode.IsUpper(r) {
				allCaps = false
			}
		} else {
			flushCaps()
		}
	}
	flushCaps()
	score += clamp(float64(capsWords)/float64(wordCount)*1.5, 0, 0.2)

	possessives := 0
	runes := []rune(content)
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] == '\'' && (runes[i+1] == 's' || runes[i+1] == 'S') {
			possessives++
		}
	}
	score += clamp(float64(possessives)*0.1, 0, 0.15)

	colons := strings.Count(content, ":")
	score += clamp(float64(colons)*0.08, 0, 0.1)

	var sentLens []float64
	wordsInSentence := 0
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case isWordRune(r):
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			wordsInSentence++
		case r == '.' || r == '!' || r == '?':
			if wordsInSentence > 0 {
				sentLens = append(sentLens, float64(wordsInSentence))
				wordsInSentence = 0
			}
			i++
		default:
			i++
		}
	}
	if wordsInSentence > 0 {
		sentLens = append(sentLens, float64(wordsInSentence))
	}
	if n := len(sentLens); n > 1 {
		var sum, sumSq float64
		for _, l := range sentLens {
			sum += l
			sumSq += l * l
		}
		mean := sum / float64(n)
		variance := sumSq/float64(n) - mean*mean
		varianceScore := 1.0 - math.Exp(-variance/50.0)
		score += clamp(varianceScore*0.1, 0, 0.1)
	}

	return clamp(score, 0, 1)
}

// EntityDensity estimates named-entity density from capitalized words and
// number sequences, smoothed through a sigmoid centered at 0.15.
func EntityDensity(content string) float64 {
	if content == "" {
		return 0
	}
	wordCount := countWords(content)
	if wordCount == 0 {
		return 0
	}
	entities := countCapitalizedWords(content) + countNumberSequences(content)
	density := float64(entities) / float64(wordCount)
	return sigmoid(density, 0.15, 15.0)
}

// Structural scores graph connectivity from link and relationship counts.
func Structural(incomingLinks, outgoingLinks, relationshipCount int) float64 {
	if incomingLinks <= 0 && outgoingLinks <= 0 && relationshipCount <= 0 {
		return 0
	}
	totalLinks := float64(incomingLinks + outgoingLinks)
	linkScore := 1.0 - math.Exp(-0.3*totalLinks)
	relScore := 1.0 - math.Exp(-0.2*float64(relationshipCount))
	return 0.6*linkScore + 0.4*relScore
}

// ScoreContent combines the four content sub-scores with a word-count factor
// that penalizes fragments below 5 words and very long passages above 100.
func ScoreContent(content string) float64 {
	if content == "" {
		return 0
	}
	informativeness := Informativeness(content)
	specificity := Specificity(content)
	salience := Salience(content)
	entityDensity := EntityDensity(content)

	wordCount := countWords(content)
	var lengthFactor float64
	switch {
	case wordCount < 5:
		lengthFactor = float64(wordCount) / 5.0
	case wordCount <= 100:
		lengthFactor = 1.0
	default:
		lengthFactor = clamp(1.0-float64(wordCount-100)/200.0, 0.5, 1.0)
	}

	base := 0.30*informativeness + 0.25*specificity + 0.25*salience + 0.20*entityDensity
	return clamp(base*lengthFactor, 0, 1)
}

// ScoreExtracted scores short LLM-extracted facts. Extraction already implies
// some importance, so there is no length penalty and the result is mapped
// into [0.4, 1.0].
func ScoreExtracted(content string) float64 {
	if content == "" {
		return 0
	}
	specificity := Specificity(content)
	entityDensity := EntityDensity(content)
	informativeness := Informativeness(content)

	wordCount := countWords(content)
	concreteBonus := 0.0
	if wordCount > 0 {
		concreteRatio := float64(countCapitalizedWords(content)+countNumberSequences(content)) / float64(wordCount)
		concreteBonus = clamp(concreteRatio*0.3, 0, 0.3)
	}

	base := 0.35*specificity + 0.30*entityDensity + 0.20*informativeness + 0.15*concreteBonus
	const floor = 0.4
	return clamp(floor+(1.0-floor)*base, floor, 1.0)
}

// TemporalDecay applies the Ebbinghaus forgetting curve to a memory age.
// Returns 1.0 at age zero; inside the recency window the decayed value gets a
// linearly fading boost, capped at 1.0.
func (c Config) TemporalDecay(age time.Duration) float64 {
	cfg := c.withDefaults()
	if age <= 0 {
		return 1.0
	}
	ageHours := age.Hours()
	stability := cfg.HalfLife.Hours() / math.Ln2
	decay := math.Exp(-ageHours / stability)
	decay = math.Max(decay, cfg.MinDecayFactor)
	if window := cfg.RecencyWindow.Hours(); ageHours < window {
		recencyFactor := 1.0 - ageHours/window
		boost := 1.0 + (cfg.RecencyBoost-1.0)*recencyFactor
		decay = math.Min(decay*boost, 1.0)
	}
	return decay
}

// AccessScore blends retrieval frequency, last-access recency, mean relevance
// and spacing quality into [0,1]. A nil or empty history scores 0.
func (c Config) AccessScore(history *AccessHistory, now time.Time) float64 {
	cfg := c.withDefaults()
	if history == nil || history.TotalAccesses == 0 {
		return 0
	}

	retrievalScore := clamp(math.Log(1.0+float64(history.TotalAccesses))/math.Log(101.0), 0, 1)
	recencyScore := cfg.TemporalDecay(now.Sub(history.LastAccess))
	relevanceScore := history.AvgRelevance

	intervalScore := 0.5
	if len(history.Events) >= 2 {
		var total float64
		for i := 1; i < len(history.Events); i++ {
			total += history.Events[i].Timestamp.Sub(history.Events[i-1].Timestamp).Hours()
		}
		avgInterval := total / float64(len(history.Events)-1)
		ratio := avgInterval / cfg.OptimalInterval.Hours()
		intervalScore = math.Exp(-math.Pow(math.Log(ratio+0.1), 2) / 2.0)
	}

	score := 0.3*retrievalScore + 0.3*recencyScore + 0.2*relevanceScore + 0.2*intervalScore
	return clamp(score, 0, 1)
}

// Calculate blends every factor that has data, renormalizing the weights over
// the available subset. A supplied query similarity pulls the final score
// halfway toward it.
func (c Config) Calculate(ctx Context) Result {
	cfg := c.withDefaults()
	var res Result
	factors := 0
	weightedSum := 0.0
	totalWeight := 0.0

	if ctx.Content != "" {
		res.Informativeness = Informativeness(ctx.Content)
		res.Specificity = Specificity(ctx.Content)
		res.Salience = Salience(ctx.Content)
		res.EntityDensity = EntityDensity(ctx.Content)
		res.ContentScore = 0.35*res.Informativeness + 0.25*res.Specificity +
			0.25*res.Salience + 0.15*res.EntityDensity
		weightedSum += cfg.Weights.Content * res.ContentScore
		totalWeight += cfg.Weights.Content
		factors++
	} else {
		res.ContentScore = cfg.BaseScore
	}

	if !ctx.CreatedAt.IsZero() && !ctx.Now.IsZero() {
		age := ctx.Now.Sub(ctx.CreatedAt)
		res.DecayFactor = cfg.TemporalDecay(age)
		if ageHours := age.Hours(); ageHours < cfg.RecencyWindow.Hours() && ageHours >= 0 {
			res.RecencyBonus = (1.0 - ageHours/cfg.RecencyWindow.Hours()) * (cfg.RecencyBoost - 1.0)
		}
		res.TemporalScore = res.DecayFactor
		weightedSum += cfg.Weights.Temporal * res.TemporalScore
		totalWeight += cfg.Weights.Temporal
		factors++
	} else {
		res.TemporalScore = 1.0
		res.DecayFactor = 1.0
	}

	if ctx.History != nil && ctx.History.TotalAccesses > 0 {
		res.AccessScore = cfg.AccessScore(ctx.History, ctx.Now)
		res.RetrievalBoost = math.Log(1.0+float64(ctx.History.TotalAccesses)) * 0.1
		weightedSum += cfg.Weights.Access * res.AccessScore
		totalWeight += cfg.Weights.Access
		factors++
	}

	// Salience rides on the content analysis but carries its own weight.
	weightedSum += cfg.Weights.Salience * res.Salience
	totalWeight += cfg.Weights.Salience
	factors++

	if ctx.RelationshipCount > 0 || ctx.IncomingLinks > 0 || ctx.OutgoingLinks > 0 {
		res.StructuralScore = Structural(ctx.IncomingLinks, ctx.OutgoingLinks, ctx.RelationshipCount)
		weightedSum += cfg.Weights.Structural * res.StructuralScore
		totalWeight += cfg.Weights.Structural
		factors++
	}

	if totalWeight > 0 {
		res.FinalScore = weightedSum / totalWeight
	} else {
		res.FinalScore = cfg.BaseScore
	}

	if ctx.QueryContext != "" && ctx.SemanticSimilarity > 0 {
		res.FinalScore = 0.5*res.FinalScore + 0.5*ctx.SemanticSimilarity
		factors++
	}

	res.Confidence = float64(factors) / 6.0
	res.FinalScore = clamp(res.FinalScore, 0, 1)
	return res
}

// Rerank scores every context and orders indices by
// (1-similarityWeight)*importance + similarityWeight*similarity, descending.
// Equal combined scores keep their input order.
func (c Config) Rerank(contexts []Context, similarityWeight float64) ([]int, []Result) {
	if len(contexts) == 0 {
		return nil, nil
	}
	results := make([]Result, len(contexts))
	combined := make([]float64, len(contexts))
	indices := make([]int, len(contexts))
	importanceWeight := 1.0 - similarityWeight
	for i, ctx := range contexts {
		results[i] = c.Calculate(ctx)
		combined[i] = importanceWeight*results[i].FinalScore + similarityWeight*ctx.SemanticSimilarity
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return combined[indices[a]] > combined[indices[b]]
	})
	return indices, results
}
