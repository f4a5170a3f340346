// Package render converts decoded posts into titles, classification flags
// and HTML/JSON documents with signed content URLs. It never touches the
// filesystem; content bytes are resolved later through the cache manager.
package render

import (
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"telefeed/internal/cache"
	"telefeed/internal/platform"
	"telefeed/internal/signing"
)

const (
	visualBoundingBox = 600
	audioWidth        = 400
	footerSpacer      = "&nbsp;&nbsp;|&nbsp;&nbsp;"
)

// Rendered is the immutable result of one render pass. It doubles as the
// JSON projection served over HTTP.
type Rendered struct {
	Channel  string   `json:"channel"`
	PostID   int64    `json:"post_id"`
	Unixtime int64    `json:"timestamp"`
	Text     string   `json:"text"`
	HTML     string   `json:"html"`
	Title    string   `json:"title"`
	Author   string   `json:"author,omitempty"`
	Views    int      `json:"views"`
	GroupID  int64    `json:"media_group_id,omitempty"`
	Flags    []string `json:"flags"`
}

// Renderer is the deterministic post rendering pipeline. It holds the
// signing service by reference; there is no hidden global key state.
type Renderer struct {
	signer *signing.Signer
	cfg    Config
	logger *slog.Logger
}

// New creates a renderer.
func New(signer *signing.Signer, cfg Config, logger *slog.Logger) (*Renderer, error) {
	if signer == nil {
		return nil, fmt.Errorf("new renderer: nil signer")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Renderer{signer: signer, cfg: cfg, logger: logger}, nil
}

// Render converts one post into its rendered form. naked suppresses the
// document wrapper and footer for media-group members that the feed
// assembler wraps once itself. Render never fails for well-formed posts;
// sub-block formatting problems degrade to an omitted block.
func (r *Renderer) Render(post platform.Post, naked bool) Rendered {
	rendered := Rendered{
		Channel:  post.Channel,
		PostID:   post.ID,
		Unixtime: post.Unixtime,
		Text:     post.Text,
		Author:   post.Author,
		Views:    post.Views,
		GroupID:  post.GroupID,
		Flags:    []string{},
	}

	if post.IsService() {
		title := serviceTitle(post.Service)
		rendered.Title = title
		body := `<div class="service">` + html.EscapeString(title) + `</div>`
		if !naked {
			body = r.openDocument(post) + body + `</div>`
		}
		rendered.HTML = body
		return rendered
	}

	var body strings.Builder
	r.writeAnnotation(&body, post)
	r.writeText(&body, post)
	r.writePoll(&body, post)
	r.writeMedia(&body, post)
	r.writePreview(&body, post)

	rendered.HTML = body.String()
	if !naked {
		rendered.HTML = r.WrapDocument(post, rendered.HTML)
	}
	rendered.Title = r.title(post)
	rendered.Flags = r.flags(post)

	return rendered
}

// WrapDocument wraps an already rendered body in the outer document markup
// and appends the footer. The feed assembler calls it once per merged media
// group, with the group's concatenated member bodies.
func (r *Renderer) WrapDocument(post platform.Post, body string) string {
	return r.openDocument(post) + body + r.footer(post) + `</div>`
}

func (r *Renderer) openDocument(post platform.Post) string {
	return `<div class="post" id="post-` + strconv.FormatInt(post.ID, 10) + `">`
}

// writeAnnotation emits the forward origin line, or failing that the reply
// line. At most one of the two.
func (r *Renderer) writeAnnotation(body *strings.Builder, post platform.Post) {
	if post.Forward != nil {
		origin := r.renderSafely("forward", func() string {
			return forwardOrigin(*post.Forward)
		})
		if origin != "" {
			body.WriteString(`<div class="forwarded">Forwarded from ` + origin + `</div>`)
		}
		return
	}

	if post.Reply != nil {
		line := "Reply to #" + strconv.FormatInt(post.Reply.ToID, 10)
		if excerpt := truncateRunes(post.Reply.Quote, r.cfg.ReplyExcerptRunes); excerpt != "" {
			line += ": " + html.EscapeString(excerpt)
		}
		body.WriteString(`<div class="reply">` + line + `</div>`)
	}
}

func forwardOrigin(forward platform.Forward) string {
	label := forward.Title
	if label == "" {
		label = forward.Handle
	}
	if forward.Handle != "" {
		return `<a href="https://t.me/` + html.EscapeString(forward.Handle) + `">` +
			html.EscapeString(label) + `</a>`
	}
	if label == "" {
		label = forward.Sender
	}
	if label == "" {
		label = "anonymous"
	}

	return html.EscapeString(label)
}

func (r *Renderer) writeText(body *strings.Builder, post platform.Post) {
	if strings.TrimSpace(post.Text) == "" {
		return
	}
	body.WriteString(`<div class="text">` + linkify(post.Text) + `</div>`)
}

func (r *Renderer) writePoll(body *strings.Builder, post platform.Post) {
	if post.Poll == nil {
		return
	}

	block := r.renderSafely("poll", func() string {
		var b strings.Builder
		b.WriteString(`<div class="poll"><b>` + html.EscapeString(post.Poll.Question) + `</b><ol>`)
		for _, option := range post.Poll.Options {
			b.WriteString(`<li>` + html.EscapeString(option) + `</li>`)
		}
		b.WriteString(`</ol></div>`)
		return b.String()
	})
	body.WriteString(block)
}

func (r *Renderer) writeMedia(body *strings.Builder, post platform.Post) {
	for _, media := range post.Media {
		src := r.signedContentURL(post.Channel, post.ID, media.ID)
		switch media.Kind {
		case platform.MediaPhoto, platform.MediaSticker:
			body.WriteString(fmt.Sprintf(
				`<img src="%s" style="max-width:%dpx;max-height:%dpx"/>`,
				src, visualBoundingBox, visualBoundingBox))
		case platform.MediaVideo, platform.MediaAnimation, platform.MediaVideoNote:
			body.WriteString(fmt.Sprintf(
				`<video src="%s" controls style="max-width:%dpx;max-height:%dpx"></video>`,
				src, visualBoundingBox, visualBoundingBox))
		case platform.MediaAudio, platform.MediaVoice:
			body.WriteString(fmt.Sprintf(
				`<audio src="%s" controls style="width:%dpx"></audio>`,
				src, audioWidth))
		default:
			name := media.FileName
			if name == "" {
				name = "Attached file"
			}
			body.WriteString(`<div class="document"><a href="` + src + `">` +
				html.EscapeString(name) + `</a></div>`)
		}
	}
}

func (r *Renderer) writePreview(body *strings.Builder, post platform.Post) {
	if post.Preview == nil {
		return
	}

	block := r.renderSafely("preview", func() string {
		preview := post.Preview
		href := html.EscapeString(preview.URL)

		var b strings.Builder
		b.WriteString(`<blockquote class="preview">`)
		heading := strings.TrimSpace(preview.Title)
		if preview.SiteName != "" {
			heading = strings.TrimSpace(preview.SiteName + ": " + heading)
		}
		if heading != "" {
			b.WriteString(`<a href="` + href + `"><b>` + html.EscapeString(heading) + `</b></a>`)
		}
		if preview.Description != "" {
			b.WriteString(`<br/>` + html.EscapeString(preview.Description))
		}
		if preview.Photo != nil {
			thumb := r.signedContentURL(post.Channel, post.ID, preview.Photo.ID)
			b.WriteString(fmt.Sprintf(
				`<br/><a href="%s"><img src="%s" style="max-width:%dpx;max-height:%dpx"/></a>`,
				href, thumb, visualBoundingBox, visualBoundingBox))
		}
		b.WriteString(`</blockquote>`)
		return b.String()
	})
	body.WriteString(block)
}

// footer renders reactions, view count and the two action links on one line.
func (r *Renderer) footer(post platform.Post) string {
	parts := make([]string, 0, 3)

	reactions := r.renderSafely("reactions", func() string {
		if len(post.Reactions) == 0 {
			return ""
		}
		chunks := make([]string, 0, len(post.Reactions))
		for _, reaction := range post.Reactions {
			chunks = append(chunks, html.EscapeString(reaction.Emoji)+" "+strconv.Itoa(reaction.Count))
		}
		return strings.Join(chunks, " ")
	})
	if reactions != "" {
		parts = append(parts, reactions)
	}
	if post.Views > 0 {
		parts = append(parts, strconv.Itoa(post.Views)+" views")
	}

	channel := html.EscapeString(post.Channel)
	id := strconv.FormatInt(post.ID, 10)
	parts = append(parts,
		`<a href="tg://resolve?domain=`+channel+`&amp;post=`+id+`">Open in app</a>`+
			footerSpacer+
			`<a href="https://t.me/`+channel+`/`+id+`">Open on web</a>`)

	return `<div class="footer">` + strings.Join(parts, footerSpacer) + `</div>`
}

// signedContentURL builds the cache-keyed content path and signs it. The
// path segment matches the cache key form exactly.
func (r *Renderer) signedContentURL(channel string, postID int64, mediaID string) string {
	key := cache.Key{Channel: channel, PostID: postID, MediaID: mediaID}
	path := "/content/" + key.String()

	digest, err := r.signer.Sign(path)
	if err != nil {
		r.logger.Warn("sign content url failed",
			"channel", channel, "post", postID, "media", mediaID, "error", err)
		return path
	}
	if digest == "" {
		return path
	}

	return path + "?sig=" + digest
}

// renderSafely executes one formatting block and converts panics into an
// omitted block, so a malformed sub-structure cannot fail the whole render.
func (r *Renderer) renderSafely(scope string, block func() string) (out string) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		r.logger.Warn("render block panic recovered", "block", scope, "panic", recovered)
		out = ""
	}()

	return block()
}

// linkify escapes text for HTML and turns bare URLs into anchors. URLs are
// detected on the raw text, so already escaped entities never end up inside
// an href.
func linkify(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		link := html.EscapeString(text[loc[0]:loc[1]])
		b.WriteString(`<a href="` + link + `">` + link + `</a>`)
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))

	return strings.ReplaceAll(b.String(), "\n", "<br/>")
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit]) + "…"
}
