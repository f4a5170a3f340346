package render

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"telefeed/internal/platform"
	"telefeed/internal/signing"
)

func TestRenderWrapsDocumentAndFooter(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)
	post := platform.Post{
		Channel:   "somechannel",
		ID:        42,
		Unixtime:  1700000000,
		Text:      "Hello world, this is a post",
		Views:     120,
		Reactions: []platform.Reaction{{Emoji: "👍", Count: 3}},
	}

	rendered := renderer.Render(post, false)

	if !strings.Contains(rendered.HTML, `id="post-42"`) {
		t.Fatalf("missing document wrapper: %s", rendered.HTML)
	}
	if !strings.Contains(rendered.HTML, "120 views") {
		t.Fatalf("missing view count: %s", rendered.HTML)
	}
	if !strings.Contains(rendered.HTML, "👍 3") {
		t.Fatalf("missing reactions: %s", rendered.HTML)
	}
	if !strings.Contains(rendered.HTML, "Open in app") || !strings.Contains(rendered.HTML, "Open on web") {
		t.Fatalf("missing action links: %s", rendered.HTML)
	}
	if rendered.Title != "Hello world, this is a post" {
		t.Fatalf("title = %q", rendered.Title)
	}
}

func TestRenderNakedSuppressesWrapperAndFooter(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)
	post := platform.Post{
		Channel: "somechannel",
		ID:      42,
		Text:    "Hello world, this is a post",
		Views:   120,
	}

	rendered := renderer.Render(post, true)

	if strings.Contains(rendered.HTML, `class="post"`) {
		t.Fatalf("naked render still wrapped: %s", rendered.HTML)
	}
	if strings.Contains(rendered.HTML, "views") || strings.Contains(rendered.HTML, "Open in app") {
		t.Fatalf("naked render still has footer: %s", rendered.HTML)
	}
}

func TestRenderEscapesTextAndLinkifiesURLs(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)
	post := platform.Post{
		Channel: "somechannel",
		ID:      1,
		Text:    "a <b> tag & a link https://example.com/x?a=1&b=2 done",
	}

	rendered := renderer.Render(post, true)

	if strings.Contains(rendered.HTML, "<b>") {
		t.Fatalf("raw markup leaked: %s", rendered.HTML)
	}
	if !strings.Contains(rendered.HTML, "&lt;b&gt;") {
		t.Fatalf("markup not escaped: %s", rendered.HTML)
	}
	if !strings.Contains(rendered.HTML, `<a href="https://example.com/x?a=1&amp;b=2">`) {
		t.Fatalf("url not linkified: %s", rendered.HTML)
	}
}

func TestRenderServiceMessage(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)
	post := platform.Post{
		Channel: "somechannel",
		ID:      7,
		Service: platform.ServiceVideoChatStarted,
		// Media on a service event must be ignored.
		Media: []platform.Media{{Kind: platform.MediaPhoto, ID: "1"}},
	}

	rendered := renderer.Render(post, false)

	if rendered.Title != "Video chat started" {
		t.Fatalf("title = %q", rendered.Title)
	}
	if !strings.Contains(rendered.HTML, `class="service"`) {
		t.Fatalf("missing service body: %s", rendered.HTML)
	}
	if strings.Contains(rendered.HTML, "<img") {
		t.Fatalf("service message rendered media: %s", rendered.HTML)
	}
	if len(rendered.Flags) != 0 {
		t.Fatalf("service message got flags: %v", rendered.Flags)
	}
}

func TestRenderForwardBeatsReply(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)
	post := platform.Post{
		Channel: "somechannel",
		ID:      1,
		Text:    "forwarded content here",
		Forward: &platform.Forward{Handle: "originchannel", Title: "Origin Channel"},
		Reply:   &platform.Reply{ToID: 9, Quote: "quoted text"},
	}

	rendered := renderer.Render(post, true)

	if !strings.Contains(rendered.HTML, "Forwarded from") {
		t.Fatalf("missing forward annotation: %s", rendered.HTML)
	}
	if !strings.Contains(rendered.HTML, `https://t.me/originchannel`) {
		t.Fatalf("public handle not linked: %s", rendered.HTML)
	}
	if strings.Contains(rendered.HTML, "Reply to") {
		t.Fatalf("reply annotation emitted alongside forward: %s", rendered.HTML)
	}
}

func TestRenderReplyExcerptCapped(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)
	post := platform.Post{
		Channel: "somechannel",
		ID:      1,
		Text:    "answering the question above",
		Reply:   &platform.Reply{ToID: 9, Quote: strings.Repeat("q", 150)},
	}

	rendered := renderer.Render(post, true)

	if !strings.Contains(rendered.HTML, "Reply to #9: ") {
		t.Fatalf("missing reply annotation: %s", rendered.HTML)
	}
	if strings.Contains(rendered.HTML, strings.Repeat("q", 101)) {
		t.Fatalf("reply excerpt not capped: %s", rendered.HTML)
	}
}

func TestRenderPollBlock(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)
	post := platform.Post{
		Channel: "somechannel",
		ID:      1,
		Poll: &platform.Poll{
			Question: "Best option?",
			Options:  []string{"First", "Second", "Third"},
		},
	}

	rendered := renderer.Render(post, true)

	if !strings.Contains(rendered.HTML, "Best option?") {
		t.Fatalf("missing poll question: %s", rendered.HTML)
	}
	for _, option := range []string{"First", "Second", "Third"} {
		if !strings.Contains(rendered.HTML, "<li>"+option+"</li>") {
			t.Fatalf("missing poll option %q: %s", option, rendered.HTML)
		}
	}
}

func TestRenderMediaElementsAndSizing(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)

	tests := []struct {
		name     string
		kind     platform.MediaKind
		wantTag  string
		wantSize string
	}{
		{name: "photo", kind: platform.MediaPhoto, wantTag: "<img", wantSize: "max-width:600px;max-height:600px"},
		{name: "video", kind: platform.MediaVideo, wantTag: "<video", wantSize: "max-width:600px;max-height:600px"},
		{name: "audio", kind: platform.MediaAudio, wantTag: "<audio", wantSize: "width:400px"},
		{name: "voice", kind: platform.MediaVoice, wantTag: "<audio", wantSize: "width:400px"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			post := platform.Post{
				Channel: "somechannel",
				ID:      5,
				Media:   []platform.Media{{Kind: testCase.kind, ID: "9000"}},
			}
			rendered := renderer.Render(post, true)

			if !strings.Contains(rendered.HTML, testCase.wantTag) {
				t.Fatalf("missing %s element: %s", testCase.wantTag, rendered.HTML)
			}
			if !strings.Contains(rendered.HTML, testCase.wantSize) {
				t.Fatalf("missing size constraint %q: %s", testCase.wantSize, rendered.HTML)
			}
			if !strings.Contains(rendered.HTML, "/content/somechannel/5/9000") {
				t.Fatalf("content url not keyed by composite key: %s", rendered.HTML)
			}
		})
	}
}

func TestRenderedContentURLsVerify(t *testing.T) {
	t.Parallel()

	signer, err := signing.New(filepath.Join(t.TempDir(), "signing.key"))
	if err != nil {
		t.Fatalf("new signer failed: %v", err)
	}
	renderer, err := New(signer, DefaultConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new renderer failed: %v", err)
	}

	post := platform.Post{
		Channel: "somechannel",
		ID:      42,
		Media: []platform.Media{
			{Kind: platform.MediaPhoto, ID: "9000"},
			{Kind: platform.MediaVideo, ID: "9001"},
		},
	}
	rendered := renderer.Render(post, false)

	signedURLRe := regexp.MustCompile(`(/content/[^"?]+)\?sig=([0-9a-f]{8})`)
	matches := signedURLRe.FindAllStringSubmatch(rendered.HTML, -1)
	if len(matches) != 2 {
		t.Fatalf("signed urls = %d, want 2: %s", len(matches), rendered.HTML)
	}
	for _, match := range matches {
		if !signer.Verify(match[1], match[2]) {
			t.Fatalf("embedded url %s?sig=%s does not verify", match[1], match[2])
		}
	}
}

func TestRenderNeverPanicsOnDegenerateInput(t *testing.T) {
	t.Parallel()

	renderer := newTestRenderer(t)

	posts := []platform.Post{
		{},
		{Channel: "somechannel", ID: 1, Poll: &platform.Poll{}},
		{Channel: "somechannel", ID: 2, Preview: &platform.LinkPreview{}},
		{Channel: "somechannel", ID: 3, Forward: &platform.Forward{}},
		{Channel: "somechannel", ID: 4, Reply: &platform.Reply{}},
	}
	for _, post := range posts {
		rendered := renderer.Render(post, false)
		if rendered.Title == "" {
			t.Fatalf("post %d: empty title", post.ID)
		}
	}
}
