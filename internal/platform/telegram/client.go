// Package telegram implements the platform client on top of the gotd MTProto
// client. All wire decoding happens here; the rest of the system only ever
// sees neutral posts.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	gocache "github.com/patrickmn/go-cache"

	"telefeed/internal/platform"
)

const (
	peerCacheTTL   = 30 * time.Minute
	peerCacheSweep = 10 * time.Minute

	defaultHistoryLimit = 100
)

// channelAPI is the narrow RPC surface the client needs. The gotd-backed
// implementation is the only production one; tests substitute their own.
type channelAPI interface {
	ResolveUsername(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error)
	GetChannelMessage(ctx context.Context, channel tg.InputChannel, id int) (tg.MessagesMessagesClass, error)
	GetChannelHistory(ctx context.Context, channel tg.InputChannel, limit int) (tg.MessagesMessagesClass, error)
	GetFullChannel(ctx context.Context, channel tg.InputChannel) (*tg.MessagesChatFull, error)
	DownloadToPath(ctx context.Context, location tg.InputFileLocationClass, path string) error
}

// Client fetches channel posts and content through Telegram RPC. Resolved
// channel identities are memoized so repeated requests for the same channel
// skip the resolve round trip.
type Client struct {
	api    channelAPI
	peers  *gocache.Cache
	logger *slog.Logger
}

// NewClient creates a Telegram platform client over a connected gotd client.
func NewClient(client *gotdtelegram.Client, logger *slog.Logger) (*Client, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram client: nil gotd client")
	}

	return newClientWithAPI(gotdAPI{
		raw:   tg.NewClient(client),
		files: downloader.NewDownloader(),
	}, logger)
}

func newClientWithAPI(api channelAPI, logger *slog.Logger) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("new telegram client: nil api")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:    api,
		peers:  gocache.New(peerCacheTTL, peerCacheSweep),
		logger: logger,
	}, nil
}

// resolvedChannel is the memoized identity of one public channel.
type resolvedChannel struct {
	input tg.InputChannel
	title string
}

func (c *Client) resolveChannel(ctx context.Context, channel string) (resolvedChannel, error) {
	cacheKey := strings.ToLower(channel)
	if cached, found := c.peers.Get(cacheKey); found {
		return cached.(resolvedChannel), nil
	}

	resolved, err := c.api.ResolveUsername(ctx, channel)
	if err != nil {
		return resolvedChannel{}, fmt.Errorf("resolve channel %s: %w", channel, classifyRPCError(err))
	}

	peerChannel, ok := resolved.Peer.(*tg.PeerChannel)
	if !ok {
		return resolvedChannel{}, fmt.Errorf("resolve channel %s: username is not a channel: %w",
			channel, platform.ErrNotFound)
	}

	for _, chat := range resolved.Chats {
		typed, isChannel := chat.(*tg.Channel)
		if !isChannel || typed.ID != peerChannel.ChannelID {
			continue
		}

		entry := resolvedChannel{
			input: tg.InputChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			title: typed.Title,
		}
		c.peers.Set(cacheKey, entry, gocache.DefaultExpiration)

		return entry, nil
	}

	return resolvedChannel{}, fmt.Errorf("resolve channel %s: resolved peer missing channel entity: %w",
		channel, platform.ErrUpstream)
}

// GetMessage fetches and decodes a single channel post.
func (c *Client) GetMessage(ctx context.Context, channel string, id int64) (platform.Post, error) {
	resolved, err := c.resolveChannel(ctx, channel)
	if err != nil {
		return platform.Post{}, err
	}

	raw, err := c.api.GetChannelMessage(ctx, resolved.input, int(id))
	if err != nil {
		return platform.Post{}, fmt.Errorf("get message %s/%d: %w", channel, id, classifyRPCError(err))
	}

	messages, entities, err := unpackMessages(raw)
	if err != nil {
		return platform.Post{}, fmt.Errorf("get message %s/%d: %w", channel, id, err)
	}

	for _, message := range messages {
		if int64(message.GetID()) != id {
			continue
		}
		post, ok := mapMessage(channel, message, entities)
		if !ok {
			// The API answers deleted IDs with an empty stub.
			break
		}
		return post, nil
	}

	return platform.Post{}, fmt.Errorf("get message %s/%d: %w", channel, id, platform.ErrNotFound)
}

// GetHistory fetches the most recent posts of a channel, newest first as
// Telegram returns them.
func (c *Client) GetHistory(ctx context.Context, channel string, limit int) ([]platform.Post, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	resolved, err := c.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	raw, err := c.api.GetChannelHistory(ctx, resolved.input, limit)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", channel, classifyRPCError(err))
	}

	messages, entities, err := unpackMessages(raw)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", channel, err)
	}

	posts := make([]platform.Post, 0, len(messages))
	for _, message := range messages {
		post, ok := mapMessage(channel, message, entities)
		if !ok {
			continue
		}
		posts = append(posts, post)
	}

	return posts, nil
}

// GetChatInfo fetches channel-level metadata.
func (c *Client) GetChatInfo(ctx context.Context, channel string) (platform.ChatInfo, error) {
	resolved, err := c.resolveChannel(ctx, channel)
	if err != nil {
		return platform.ChatInfo{}, err
	}

	full, err := c.api.GetFullChannel(ctx, resolved.input)
	if err != nil {
		return platform.ChatInfo{}, fmt.Errorf("get chat info %s: %w", channel, classifyRPCError(err))
	}

	info := platform.ChatInfo{
		ID:     resolved.input.ChannelID,
		Handle: channel,
		Title:  resolved.title,
	}
	if channelFull, ok := full.FullChat.(*tg.ChannelFull); ok {
		info.About = channelFull.About
	}
	for _, chat := range full.Chats {
		if typed, isChannel := chat.(*tg.Channel); isChannel && typed.ID == resolved.input.ChannelID {
			info.Title = typed.Title
			break
		}
	}

	return info, nil
}

// Download streams the content behind media into dest. The media Ref must be
// a file location produced by this package's mapper.
func (c *Client) Download(ctx context.Context, media platform.Media, dest string) error {
	location, ok := media.Ref.(tg.InputFileLocationClass)
	if !ok {
		return fmt.Errorf("download media %s: ref %T is not a telegram file location: %w",
			media.ID, media.Ref, platform.ErrNotFound)
	}

	if err := c.api.DownloadToPath(ctx, location, dest); err != nil {
		return fmt.Errorf("download media %s: %w", media.ID, classifyRPCError(err))
	}

	return nil
}

// unpackMessages extracts the message list and its entity index from any of
// the container shapes the messages API answers with.
func unpackMessages(raw tg.MessagesMessagesClass) ([]tg.MessageClass, entityIndex, error) {
	switch typed := raw.(type) {
	case *tg.MessagesChannelMessages:
		return typed.Messages, newEntityIndex(typed.Users, typed.Chats), nil
	case *tg.MessagesMessages:
		return typed.Messages, newEntityIndex(typed.Users, typed.Chats), nil
	case *tg.MessagesMessagesSlice:
		return typed.Messages, newEntityIndex(typed.Users, typed.Chats), nil
	default:
		return nil, entityIndex{}, fmt.Errorf("unsupported messages container %s: %w",
			raw.TypeName(), platform.ErrUpstream)
	}
}

// notFoundRPCTypes are the RPC error types that mean the requested entity
// does not exist or is not reachable, as opposed to a transient failure.
var notFoundRPCTypes = map[string]struct{}{
	"USERNAME_INVALID":      {},
	"USERNAME_NOT_OCCUPIED": {},
	"CHANNEL_INVALID":       {},
	"CHANNEL_PRIVATE":       {},
	"MSG_ID_INVALID":        {},
	"PEER_ID_INVALID":       {},
}

func classifyRPCError(err error) error {
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return fmt.Errorf("%w: %w", platform.ErrUpstream, err)
	}

	if _, notFound := notFoundRPCTypes[strings.ToUpper(strings.TrimSpace(rpcErr.Type))]; notFound {
		return fmt.Errorf("%w: %w", platform.ErrNotFound, err)
	}

	return fmt.Errorf("%w: %w", platform.ErrUpstream, err)
}

// gotdAPI is the production channelAPI over gotd raw RPC bindings.
type gotdAPI struct {
	raw   *tg.Client
	files *downloader.Downloader
}

func (g gotdAPI) ResolveUsername(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error) {
	return g.raw.ContactsResolveUsername(ctx, username)
}

func (g gotdAPI) GetChannelMessage(ctx context.Context, channel tg.InputChannel, id int) (tg.MessagesMessagesClass, error) {
	return g.raw.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &channel,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: id}},
	})
}

func (g gotdAPI) GetChannelHistory(ctx context.Context, channel tg.InputChannel, limit int) (tg.MessagesMessagesClass, error) {
	return g.raw.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  channel.ChannelID,
			AccessHash: channel.AccessHash,
		},
		Limit: limit,
	})
}

func (g gotdAPI) GetFullChannel(ctx context.Context, channel tg.InputChannel) (*tg.MessagesChatFull, error) {
	return g.raw.ChannelsGetFullChannel(ctx, &channel)
}

func (g gotdAPI) DownloadToPath(ctx context.Context, location tg.InputFileLocationClass, path string) error {
	if _, err := g.files.Download(g.raw, location).ToPath(ctx, path); err != nil {
		return err
	}

	return nil
}
