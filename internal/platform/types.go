package platform

// MediaKind identifies the semantic category of one attachment.
type MediaKind string

const (
	// MediaPhoto identifies still images.
	MediaPhoto MediaKind = "photo"
	// MediaVideo identifies regular video files.
	MediaVideo MediaKind = "video"
	// MediaAnimation identifies looping soundless clips (GIF-style).
	MediaAnimation MediaKind = "animation"
	// MediaAudio identifies music and other audio files.
	MediaAudio MediaKind = "audio"
	// MediaVoice identifies recorded voice messages.
	MediaVoice MediaKind = "voice"
	// MediaVideoNote identifies round video messages.
	MediaVideoNote MediaKind = "video_note"
	// MediaSticker identifies stickers.
	MediaSticker MediaKind = "sticker"
	// MediaDocument identifies generic file attachments.
	MediaDocument MediaKind = "document"
)

// ServiceKind identifies a service event carried instead of regular content.
type ServiceKind string

const (
	// ServiceChannelCreated marks channel creation events.
	ServiceChannelCreated ServiceKind = "channel_created"
	// ServiceGroupCreated marks group creation events.
	ServiceGroupCreated ServiceKind = "group_created"
	// ServiceMessagePinned marks pin events.
	ServiceMessagePinned ServiceKind = "message_pinned"
	// ServicePhotoChanged marks chat photo updates.
	ServicePhotoChanged ServiceKind = "photo_changed"
	// ServiceTitleChanged marks chat title updates.
	ServiceTitleChanged ServiceKind = "title_changed"
	// ServiceVideoChatStarted marks video chat start events.
	ServiceVideoChatStarted ServiceKind = "video_chat_started"
	// ServiceVideoChatEnded marks video chat end events.
	ServiceVideoChatEnded ServiceKind = "video_chat_ended"
	// ServiceVideoChatScheduled marks scheduled video chat announcements.
	ServiceVideoChatScheduled ServiceKind = "video_chat_scheduled"
	// ServiceOther marks service events without a dedicated mapping.
	ServiceOther ServiceKind = "other"
)

// Media describes one binary attachment of a post.
//
// ID is the stable identifier of the physical content item; it survives
// re-fetches of the same post and keys the local content cache. Ref is the
// transient platform locator used for the actual download and is only
// meaningful to the Client implementation that produced it.
type Media struct {
	Kind      MediaKind
	ID        string
	Ref       any
	MIMEType  string
	FileName  string
	SizeBytes int64
	Width     int
	Height    int
}

// Poll carries a poll question and its enumerated options.
type Poll struct {
	Question string
	Options  []string
}

// LinkPreview carries the platform-resolved preview of a linked web page.
type LinkPreview struct {
	URL         string
	SiteName    string
	Title       string
	Description string
	Photo       *Media
}

// Forward describes the origin of a forwarded post. Handle is set only when
// the origin channel has a public username.
type Forward struct {
	Handle string
	Title  string
	Sender string
}

// Reply references the post this one replies to. Quote holds the quoted
// excerpt when the platform supplied one.
type Reply struct {
	ToID  int64
	Quote string
}

// Reaction is one emoji reaction with its count.
type Reaction struct {
	Emoji string
	Count int
}

// Post is the neutral projection of one channel message, decoded exactly
// once at the collaborator boundary. It is never mutated after decoding.
type Post struct {
	Channel   string
	ID        int64
	Unixtime  int64
	Text      string
	Author    string
	Views     int
	GroupID   int64
	Media     []Media
	Poll      *Poll
	Preview   *LinkPreview
	Forward   *Forward
	Reply     *Reply
	Reactions []Reaction
	Service   ServiceKind
}

// IsService reports whether the post carries a service event instead of
// regular content.
func (p Post) IsService() bool {
	return p.Service != ""
}

// ChatInfo describes channel-level metadata.
type ChatInfo struct {
	ID     int64
	Handle string
	Title  string
	About  string
}
