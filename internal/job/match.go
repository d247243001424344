package job

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// SuggestThreshold is the minimum Jaro-Winkler similarity for [Suggest].
const SuggestThreshold = 0.8

// phoneticThreshold is the lower bar for candidates that also sound alike.
const phoneticThreshold = 0.7

// MatchCompany returns the first application in apps whose company contains
// query, ignoring case. A blank query matches nothing.
func MatchCompany(apps []Application, query string) (Application, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Application{}, false
	}
	for _, a := range apps {
		if strings.Contains(strings.ToLower(a.Company), q) {
			return a, true
		}
	}
	return Application{}, false
}

// Suggest returns the company name in apps that most plausibly meant query
// when [MatchCompany] found nothing. Spoken company names are often
// mis-transcribed ("strype" for "Stripe"), so a candidate qualifies either by
// Jaro-Winkler similarity of at least [SuggestThreshold], or by a lower
// similarity plus a shared Double Metaphone code on some word. Phonetic candidates win over purely
// lexical ones.
func Suggest(apps []Application, query string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", false
	}
	qTokens := tokens(q)
	qCodes := codesForTokens(qTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, a := range apps {
		c := strings.ToLower(a.Company)
		cTokens := tokens(c)
		score := bestJWScore(qTokens, cTokens, q, c)
		phonetic := codesOverlap(qCodes, codesForTokens(cTokens))

		switch {
		case phonetic && score >= phoneticThreshold && (!best.phonetic || score > best.score):
			best = candidate{name: a.Company, score: score, phonetic: true}
		case !phonetic && !best.phonetic && score >= SuggestThreshold && score > best.score:
			best = candidate{name: a.Company, score: score}
		}
	}
	return best.name, best.name != ""
}

// corporateSuffixes never count towards a phonetic match.
var corporateSuffixes = map[string]bool{
	"inc": true, "llc": true, "ltd": true, "corp": true, "co": true,
	"gmbh": true, "plc": true, "the": true, "company": true,
}

// tokens splits a lower-cased name into words, dropping punctuation and
// corporate suffixes.
func tokens(s string) []string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if !corporateSuffixes[w] {
			out = append(out, w)
		}
	}
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// their space-stripped forms and every token pair.
func bestJWScore(inputTokens, companyTokens []string, inputFull, companyFull string) float64 {
	score := matchr.JaroWinkler(inputFull, companyFull, false)

	if len(inputTokens) > 1 || len(companyTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(companyTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, ct := range companyTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
