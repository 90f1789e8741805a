package classifier

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/spec-kit/complaint-service/internal/domain"
)

var categoryLexicon = map[domain.TicketCategory][]string{
	domain.CategoryBilling:   {"bill", "billing", "charge", "charged", "invoice", "refund", "payment", "overcharged", "price"},
	domain.CategoryTechnical: {"error", "bug", "crash", "login", "password", "app", "website", "broken", "slow", "outage"},
	domain.CategoryDelivery:  {"delivery", "shipping", "shipped", "package", "courier", "late", "delayed", "tracking"},
	domain.CategoryAccount:   {"account", "profile", "locked", "email", "verification", "username"},
	domain.CategoryProduct:   {"product", "quality", "damaged", "defective", "size", "color", "warranty"},
}

var urgentWords = []string{"urgent", "immediately", "asap", "emergency", "fraud", "legal", "lawsuit"}
var highWords = []string{"angry", "unacceptable", "again", "still", "worst", "cancel"}
var negativeWords = []string{"bad", "terrible", "awful", "angry", "unacceptable", "worst", "disappointed", "hate", "broken", "never"}
var positiveWords = []string{"thanks", "thank", "great", "appreciate", "happy", "good", "love"}

// Keyword is a deterministic lexicon scorer standing in for the model.
type Keyword struct{}

// NewKeyword returns the lexicon scorer.
func NewKeyword() *Keyword {
	return &Keyword{}
}

// Classify scores text by keyword hits.
func (k *Keyword) Classify(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tokens := tokenize(text)
	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	res := Fallback()
	bestHits := 0
	matched := map[string]struct{}{}
	for _, cat := range domain.Categories {
		hits := 0
		for _, w := range categoryLexicon[cat] {
			if counts[w] > 0 {
				hits += counts[w]
				matched[w] = struct{}{}
			}
		}
		if hits > bestHits {
			bestHits = hits
			res.Category = cat
		}
	}

	switch {
	case anyHit(counts, urgentWords):
		res.Priority = domain.TicketPriorityUrgent
	case anyHit(counts, highWords):
		res.Priority = domain.TicketPriorityHigh
	case len(tokens) < 6:
		res.Priority = domain.TicketPriorityLow
	}

	neg, pos := hitCount(counts, negativeWords), hitCount(counts, positiveWords)
	switch {
	case neg > pos:
		res.Sentiment = domain.SentimentNegative
	case pos > neg:
		res.Sentiment = domain.SentimentPositive
	}

	if bestHits > 0 {
		conf := 0.4 + 0.15*float64(bestHits)
		if conf > 0.95 {
			conf = 0.95
		}
		res.Confidence = conf
	}
	for w := range matched {
		res.Keywords = append(res.Keywords, w)
	}
	sort.Strings(res.Keywords)
	return res, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func anyHit(counts map[string]int, words []string) bool {
	return hitCount(counts, words) > 0
}

func hitCount(counts map[string]int, words []string) int {
	n := 0
	for _, w := range words {
		n += counts[w]
	}
	return n
}
