package render

// Config holds the data-driven rendering policy: keyword sets, thresholds
// and limits. Policy changes happen here, not in pipeline code.
type Config struct {
	// TitleRuneLimit caps derived titles, cut at the last word boundary.
	TitleRuneLimit int
	// MinTextTitleRunes is the floor below which captions lose to media labels.
	MinTextTitleRunes int
	// ShortVideoTextRunes is the text length under which video posts get the
	// video flag.
	ShortVideoTextRunes int
	// ReplyExcerptRunes caps the quoted excerpt in reply annotations.
	ReplyExcerptRunes int
	// Keywords maps a flag name to case-insensitive substrings that raise it.
	Keywords map[string][]string
	// MockeryEmoji is the reaction set that can raise the clownpoo flag.
	MockeryEmoji []string
	// MockeryMinCount is the reaction count threshold for clownpoo.
	MockeryMinCount int
	// PlatformDomain is the messaging platform's own link domain; URLs to it
	// do not count as external links.
	PlatformDomain string
}

// DefaultConfig returns the shipped policy with English and Russian keyword
// sets.
func DefaultConfig() Config {
	return Config{
		TitleRuneLimit:      51,
		MinTextTitleRunes:   10,
		ShortVideoTextRunes: 200,
		ReplyExcerptRunes:   100,
		Keywords: map[string][]string{
			"stream": {"stream", "стрим", "эфир", "live"},
			"donat":  {"donat", "донат", "donationalerts", "boosty", "patreon"},
			"advert": {"advert", "реклама", "промокод", "erid", "#ad", "promo code"},
			"paywall": {
				"paywall", "subscribers only", "платный доступ", "по подписке",
			},
		},
		MockeryEmoji:    []string{"🤡", "💩"},
		MockeryMinCount: 30,
		PlatformDomain:  "t.me",
	}
}
