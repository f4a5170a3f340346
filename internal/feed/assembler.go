package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"telefeed/internal/platform"
	"telefeed/internal/render"
)

const maxFeedItems = 100

// Assembler builds feed documents from a channel's recent history.
type Assembler struct {
	client   platform.Client
	renderer *render.Renderer
	logger   *slog.Logger
}

// NewAssembler creates a feed assembler.
func NewAssembler(client platform.Client, renderer *render.Renderer, logger *slog.Logger) (*Assembler, error) {
	if client == nil {
		return nil, fmt.Errorf("new feed assembler: nil client")
	}
	if renderer == nil {
		return nil, fmt.Errorf("new feed assembler: nil renderer")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Assembler{client: client, renderer: renderer, logger: logger}, nil
}

type groupMember struct {
	post     platform.Post
	rendered render.Rendered
}

// Assemble renders the channel's recent posts into an RSS document. Media
// groups collapse into one item; everything is sorted newest first. Only
// upstream unavailability fails the whole feed.
func (a *Assembler) Assemble(ctx context.Context, channel string, limit int) (*RSS, error) {
	if limit <= 0 || limit > maxFeedItems {
		limit = maxFeedItems
	}

	posts, err := a.client.GetHistory(ctx, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("assemble feed for %s: %w", channel, err)
	}

	title := channel
	description := ""
	if info, err := a.client.GetChatInfo(ctx, channel); err != nil {
		a.logger.Warn("feed: chat info unavailable", "channel", channel, "error", err)
	} else {
		if info.Title != "" {
			title = info.Title
		}
		description = info.About
	}

	var (
		singles    []groupMember
		groups     = make(map[int64][]groupMember)
		groupOrder []int64
	)
	for _, post := range posts {
		naked := post.GroupID != 0
		rendered, ok := a.renderSafely(post, naked)
		if !ok {
			continue
		}

		member := groupMember{post: post, rendered: rendered}
		if post.GroupID == 0 {
			singles = append(singles, member)
			continue
		}
		if _, seen := groups[post.GroupID]; !seen {
			groupOrder = append(groupOrder, post.GroupID)
		}
		groups[post.GroupID] = append(groups[post.GroupID], member)
	}

	items := make([]groupMember, 0, len(singles)+len(groupOrder))
	items = append(items, singles...)
	for _, groupID := range groupOrder {
		items = append(items, a.mergeGroup(groups[groupID]))
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].rendered.Unixtime > items[j].rendered.Unixtime
	})

	rssItems := make([]Item, 0, len(items))
	for _, item := range items {
		link := "https://t.me/" + channel + "/" + strconv.FormatInt(item.rendered.PostID, 10)
		rssItems = append(rssItems, Item{
			Title:       item.rendered.Title,
			Link:        link,
			GUID:        link,
			PubDate:     formatPubDate(item.rendered.Unixtime),
			Description: CDATAWrapper{Text: item.rendered.HTML},
		})
	}

	return &RSS{
		Version: "2.0",
		Channel: Channel{
			Title:       title,
			Link:        "https://t.me/" + channel,
			Description: description,
			Items:       rssItems,
		},
	}, nil
}

// mergeGroup collapses the members of one media group into a single entry:
// member bodies concatenated in original publication order under the most
// meaningful member title, wrapped once.
func (a *Assembler) mergeGroup(members []groupMember) groupMember {
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].post.ID < members[j].post.ID
	})

	head := members[0]
	title := head.rendered.Title
	for _, member := range members {
		if !render.GenericTitle(member.rendered.Title) {
			title = member.rendered.Title
			break
		}
	}

	var body string
	for _, member := range members {
		body += member.rendered.HTML
	}

	merged := head.rendered
	merged.Title = title
	merged.HTML = a.renderer.WrapDocument(head.post, body)

	return groupMember{post: head.post, rendered: merged}
}

// renderSafely isolates render panics so one bad post cannot take down the
// whole feed.
func (a *Assembler) renderSafely(post platform.Post, naked bool) (rendered render.Rendered, ok bool) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		a.logger.Error("feed: render panic recovered",
			"channel", post.Channel, "post", post.ID, "panic", recovered)
		ok = false
	}()

	return a.renderer.Render(post, naked), true
}
