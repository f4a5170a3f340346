package render

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"telefeed/internal/platform"
)

var (
	urlRe     = regexp.MustCompile(`https?://[^\s<>"']+`)
	htmlTagRe = regexp.MustCompile(`<[^>]*>`)
	mentionRe = regexp.MustCompile(`@[A-Za-z][A-Za-z0-9_]{3,}`)
	// Channel links on the platform domain, with the optional boost variant.
	channelLinkRe = regexp.MustCompile(`(?i)t\.me/(boost/)?([A-Za-z][A-Za-z0-9_]*)`)
)

// Reserved t.me path segments that never name a channel.
var reservedLinkSegments = map[string]struct{}{
	"joinchat":    {},
	"addstickers": {},
	"share":       {},
	"s":           {},
}

// flags computes the order-insensitive classification tag set for a post.
// The result is sorted for stable output.
func (r *Renderer) flags(post platform.Post) []string {
	flags := make([]string, 0, 8)

	if post.Forward != nil {
		flags = append(flags, "fwd")
	}
	if hasVideoMedia(post) && utf8.RuneCountInString(post.Text) < r.cfg.ShortVideoTextRunes {
		flags = append(flags, "video")
	}
	if !hasVisualMedia(post) {
		flags = append(flags, "no_image")
	}
	if hasMediaKind(post, platform.MediaSticker) {
		flags = append(flags, "sticker")
	}
	if post.Poll != nil {
		flags = append(flags, "poll")
	}

	lower := strings.ToLower(post.Text)
	for flag, keywords := range r.cfg.Keywords {
		if containsAny(lower, keywords) {
			flags = append(flags, flag)
		}
	}

	if r.hasMockeryReaction(post) {
		flags = append(flags, "clownpoo")
	}
	if r.hasExternalLink(post.Text) {
		flags = append(flags, "link")
	}
	if isOnlyLink(post) {
		flags = append(flags, "only_link")
	}
	if mentionRe.MatchString(post.Text) {
		flags = append(flags, "mention")
	}
	if hasInviteLink(lower) {
		flags = append(flags, "hid_channel")
	}
	if hasForeignChannelLink(post.Text, post.Channel) {
		flags = append(flags, "foreign_channel")
	}

	sort.Strings(flags)

	return flags
}

func hasMediaKind(post platform.Post, kind platform.MediaKind) bool {
	for _, media := range post.Media {
		if media.Kind == kind {
			return true
		}
	}

	return false
}

func hasVideoMedia(post platform.Post) bool {
	return hasMediaKind(post, platform.MediaVideo) ||
		hasMediaKind(post, platform.MediaAnimation) ||
		hasMediaKind(post, platform.MediaVideoNote)
}

// hasVisualMedia reports whether anything image-like is attached. Polls are
// deliberately not visual, so poll posts carry no_image.
func hasVisualMedia(post platform.Post) bool {
	return hasVideoMedia(post) ||
		hasMediaKind(post, platform.MediaPhoto) ||
		hasMediaKind(post, platform.MediaSticker)
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(haystack, strings.ToLower(needle)) {
			return true
		}
	}

	return false
}

func (r *Renderer) hasMockeryReaction(post platform.Post) bool {
	for _, reaction := range post.Reactions {
		if reaction.Count < r.cfg.MockeryMinCount {
			continue
		}
		for _, emoji := range r.cfg.MockeryEmoji {
			if reaction.Emoji == emoji {
				return true
			}
		}
	}

	return false
}

// hasExternalLink reports whether the text links anywhere other than the
// platform's own domain.
func (r *Renderer) hasExternalLink(text string) bool {
	for _, raw := range urlRe.FindAllString(text, -1) {
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.ToLower(parsed.Hostname())
		if host == r.cfg.PlatformDomain || strings.HasSuffix(host, "."+r.cfg.PlatformDomain) {
			continue
		}
		if host != "" {
			return true
		}
	}

	return false
}

// isOnlyLink reports whether the body is exclusively a bare URL, or an
// unaccompanied link preview with no text at all.
func isOnlyLink(post platform.Post) bool {
	trimmed := strings.TrimSpace(post.Text)
	if trimmed == "" {
		return post.Preview != nil && len(post.Media) == 0
	}

	return urlRe.FindString(trimmed) == trimmed
}

func hasInviteLink(lowerText string) bool {
	return strings.Contains(lowerText, "t.me/+") || strings.Contains(lowerText, "t.me/joinchat/")
}

// hasForeignChannelLink reports whether the text links a platform channel
// other than the hosting one, case-insensitively. Boost links count, except
// the degenerate boost link with no channel suffix.
func hasForeignChannelLink(text, hostChannel string) bool {
	for _, match := range channelLinkRe.FindAllStringSubmatch(text, -1) {
		boost := match[1] != ""
		name := match[2]

		if !boost && strings.EqualFold(name, "boost") {
			// t.me/boost with an empty channel suffix points nowhere.
			continue
		}
		if _, reserved := reservedLinkSegments[strings.ToLower(name)]; reserved {
			continue
		}
		if !strings.EqualFold(name, hostChannel) {
			return true
		}
	}

	return false
}
