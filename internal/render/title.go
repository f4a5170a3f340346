package render

import (
	"strings"
	"unicode/utf8"

	"telefeed/internal/platform"
)

// Static labels for service events and contentless posts.
const (
	titleWebLink = "🔗 Web link"
	titleUnknown = "Unknown Post"
)

var serviceTitles = map[platform.ServiceKind]string{
	platform.ServiceChannelCreated:     "Channel created",
	platform.ServiceGroupCreated:       "Group created",
	platform.ServiceMessagePinned:      "Message pinned",
	platform.ServicePhotoChanged:       "Chat photo updated",
	platform.ServiceTitleChanged:       "Chat title updated",
	platform.ServiceVideoChatStarted:   "Video chat started",
	platform.ServiceVideoChatEnded:     "Video chat ended",
	platform.ServiceVideoChatScheduled: "Video chat scheduled",
	platform.ServiceOther:              "Channel update",
}

var mediaLabels = map[platform.MediaKind]string{
	platform.MediaPhoto:     "📷 Photo",
	platform.MediaVideo:     "📹 Video",
	platform.MediaAnimation: "🎬 Animation",
	platform.MediaAudio:     "🎵 Audio",
	platform.MediaVoice:     "🎤 Voice message",
	platform.MediaVideoNote: "📹 Video message",
	platform.MediaSticker:   "🎭 Sticker",
}

const (
	labelPoll        = "📊 Poll"
	labelPDFDocument = "📄 PDF Document"
	labelDocument    = "📄 Document"
)

func serviceTitle(kind platform.ServiceKind) string {
	if title, ok := serviceTitles[kind]; ok {
		return title
	}

	return serviceTitles[platform.ServiceOther]
}

// title derives the listing title for a post. Priority: service label, text
// excerpt, media label, link-preview label, generic fallback. Never empty.
func (r *Renderer) title(post platform.Post) string {
	if post.IsService() {
		return serviceTitle(post.Service)
	}

	if excerpt := r.titleFromText(post.Text); excerpt != "" {
		return excerpt
	}

	if label := mediaLabel(post); label != "" {
		return label
	}

	if post.Preview != nil {
		if previewTitle := strings.TrimSpace(post.Preview.Title); previewTitle != "" {
			return truncateAtWord("🔗 "+previewTitle, r.cfg.TitleRuneLimit)
		}
	}
	if post.Preview != nil || urlRe.MatchString(post.Text) {
		return titleWebLink
	}

	return titleUnknown
}

// titleFromText derives a title from the first non-blank text line. It
// returns "" when the text is too short or strips down to nothing, letting
// the caller fall through to media and link labels.
func (r *Renderer) titleFromText(text string) string {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < r.cfg.MinTextTitleRunes {
		return ""
	}

	var line string
	for _, candidate := range strings.Split(text, "\n") {
		if strings.TrimSpace(candidate) != "" {
			line = candidate
			break
		}
	}

	line = urlRe.ReplaceAllString(line, "")
	line = htmlTagRe.ReplaceAllString(line, "")
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return ""
	}

	if end := sentenceEnd(line); end > 0 {
		line = line[:end]
	}
	line = truncateAtWord(line, r.cfg.TitleRuneLimit)

	return trimTrailingPunctuation(line)
}

// sentenceEnd returns the byte offset of the first sentence-ending period
// (one followed by a space or the end of the line), or -1.
func sentenceEnd(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != '.' {
			continue
		}
		// A run of dots is an ellipsis, not a sentence end.
		if i+1 < len(line) && line[i+1] == '.' {
			for i+1 < len(line) && line[i+1] == '.' {
				i++
			}
			continue
		}
		if i+1 == len(line) || line[i+1] == ' ' {
			return i
		}
	}

	return -1
}

// truncateAtWord trims s to at most limit runes, backing up to the last word
// boundary before the limit. It cuts mid-word only when the prefix has no
// boundary at all.
func truncateAtWord(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	prefix := runes[:limit]
	cut := -1
	for i := len(prefix) - 1; i > 0; i-- {
		if prefix[i] == ' ' {
			cut = i
			break
		}
	}
	if cut <= 0 {
		return strings.TrimRight(string(prefix), " ")
	}

	return strings.TrimRight(string(prefix[:cut]), " ")
}

// trimTrailingPunctuation drops trailing sentence punctuation and dot runs
// while preserving a final exclamation or question mark.
func trimTrailingPunctuation(s string) string {
	return strings.TrimRight(s, ".,;:… ")
}

// mediaLabel returns the media-kind title for posts without usable text.
func mediaLabel(post platform.Post) string {
	if post.Poll != nil {
		return labelPoll
	}
	if len(post.Media) == 0 {
		return ""
	}

	media := post.Media[0]
	if media.Kind == platform.MediaDocument {
		if media.MIMEType == "application/pdf" {
			return labelPDFDocument
		}
		return labelDocument
	}
	if label, ok := mediaLabels[media.Kind]; ok {
		return label
	}

	return labelDocument
}

// GenericTitle reports whether title is one of the static media/fallback
// labels rather than derived from post content. The feed assembler prefers
// non-generic titles when picking a media group's representative.
func GenericTitle(title string) bool {
	switch title {
	case labelPoll, labelPDFDocument, labelDocument, titleWebLink, titleUnknown:
		return true
	}
	for _, label := range mediaLabels {
		if title == label {
			return true
		}
	}

	return false
}
