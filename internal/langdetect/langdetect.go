// Package langdetect tells English, Hindi and Hinglish ticket text apart.
//
// It uses script ratios over letters plus a small vocabulary of romanized
// Hindi words common in support requests.
package langdetect

import (
	"math"
	"strings"
	"unicode"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
)

type Result struct {
	Language      model.Language `json:"language"`
	Mixed         bool           `json:"mixed"`
	Confidence    float64        `json:"confidence"`
	HindiRatio    float64        `json:"hindi_ratio"`
	EnglishRatio  float64        `json:"english_ratio"`
	HinglishRatio float64        `json:"hinglish_ratio"`
}

const (
	hindiDominant    = 0.45
	englishDominant  = 0.6
	hinglishMixed    = 0.15
	hinglishBoostMin = 0.1
	hinglishBoost    = 0.3
	scriptPresence   = 0.15
)

var hinglishWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`nahi nai hai hain hoon kya kaise kyun kar karo karna chal raha rahi gaya
		diya liya acha accha bhi main aap hum yeh woh kuch sab ho ja le de pe me se mera meri
		tha thi abhi jaldi please kripya`) {
		hinglishWords[w] = struct{}{}
	}
}

func Detect(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Language: model.LanguageEnglish, Confidence: 0.5, EnglishRatio: 1}
	}
	lower := strings.ToLower(text)

	var letters, hindi, english int
	for _, r := range lower {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Devanagari, r):
			hindi++
		case r < unicode.MaxASCII:
			english++
		}
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`.,!?;:"'()`, r)
	})
	var hinglish int
	for _, w := range words {
		if _, ok := hinglishWords[w]; ok {
			hinglish++
		}
	}

	var hr, er, hgr float64
	if letters > 0 {
		hr = float64(hindi) / float64(letters)
		er = float64(english) / float64(letters)
	}
	if len(words) > 0 {
		hgr = float64(hinglish) / float64(len(words))
	}
	if hgr > hinglishBoostMin {
		hr += hgr * hinglishBoost
	}
	if sum := hr + er; sum > 1 {
		hr /= sum
		er /= sum
	}

	res := Result{HindiRatio: hr, EnglishRatio: er, HinglishRatio: hgr}
	switch {
	case hr > hindiDominant:
		res.Language = model.LanguageHindi
		res.Confidence = hr
	case er > englishDominant:
		res.Language = model.LanguageEnglish
		res.Confidence = er
	case hgr > hinglishMixed:
		res.Language = model.LanguageMixed
		res.Confidence = math.Max(hr, er)*0.7 + hgr*0.3
	default:
		res.Language = model.LanguageEnglish
		res.Confidence = er
	}
	res.Mixed = (hr > scriptPresence && er > scriptPresence) || hgr > hinglishMixed
	res.Confidence = math.Min(1, math.Max(0, res.Confidence))
	return res
}
