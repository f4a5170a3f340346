package telegram

import (
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	"telefeed/internal/platform"
)

// entityIndex resolves peer IDs against the users and chats shipped alongside
// a message batch. Telegram never inlines peer details into the message
// itself.
type entityIndex struct {
	usersByID    map[int64]*tg.User
	channelsByID map[int64]*tg.Channel
	chatTitles   map[int64]string
}

func newEntityIndex(users []tg.UserClass, chats []tg.ChatClass) entityIndex {
	index := entityIndex{
		usersByID:    make(map[int64]*tg.User, len(users)),
		channelsByID: make(map[int64]*tg.Channel, len(chats)),
		chatTitles:   make(map[int64]string, len(chats)),
	}

	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		index.usersByID[notEmpty.ID] = notEmpty
	}

	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Channel:
			index.channelsByID[typed.ID] = typed
			index.chatTitles[typed.ID] = typed.Title
		case *tg.Chat:
			index.chatTitles[typed.ID] = typed.Title
		case *tg.ChannelForbidden:
			index.chatTitles[typed.ID] = typed.Title
		case *tg.ChatForbidden:
			index.chatTitles[typed.ID] = typed.Title
		}
	}

	return index
}

// mapMessage converts one raw message into the neutral post form. Empty
// message stubs map to nothing.
func mapMessage(channel string, message tg.MessageClass, entities entityIndex) (platform.Post, bool) {
	switch typed := message.(type) {
	case *tg.Message:
		return mapRegularMessage(channel, typed, entities), true
	case *tg.MessageService:
		return mapServiceMessage(channel, typed)
	default:
		return platform.Post{}, false
	}
}

func mapRegularMessage(channel string, message *tg.Message, entities entityIndex) platform.Post {
	post := platform.Post{
		Channel:  channel,
		ID:       int64(message.ID),
		Unixtime: int64(message.Date),
		Text:     message.Message,
	}

	if views, ok := message.GetViews(); ok {
		post.Views = views
	}
	if author, ok := message.GetPostAuthor(); ok {
		post.Author = author
	}
	if groupID, ok := message.GetGroupedID(); ok {
		post.GroupID = groupID
	}
	if header, ok := message.GetFwdFrom(); ok {
		post.Forward = mapForward(header, entities)
	}
	if header, ok := message.GetReplyTo(); ok {
		post.Reply = mapReply(header)
	}
	if reactions, ok := message.GetReactions(); ok {
		post.Reactions = mapReactions(reactions)
	}

	post.Media, post.Poll, post.Preview = mapMedia(message.Media)

	return post
}

func mapServiceMessage(channel string, message *tg.MessageService) (platform.Post, bool) {
	if message.Action == nil {
		return platform.Post{}, false
	}

	return platform.Post{
		Channel:  channel,
		ID:       int64(message.ID),
		Unixtime: int64(message.Date),
		Service:  mapServiceKind(message.Action),
	}, true
}

func mapServiceKind(action tg.MessageActionClass) platform.ServiceKind {
	switch typed := action.(type) {
	case *tg.MessageActionChannelCreate:
		return platform.ServiceChannelCreated
	case *tg.MessageActionChatCreate:
		return platform.ServiceGroupCreated
	case *tg.MessageActionPinMessage:
		return platform.ServiceMessagePinned
	case *tg.MessageActionChatEditPhoto:
		return platform.ServicePhotoChanged
	case *tg.MessageActionChatEditTitle:
		return platform.ServiceTitleChanged
	case *tg.MessageActionGroupCall:
		if _, ended := typed.GetDuration(); ended {
			return platform.ServiceVideoChatEnded
		}
		return platform.ServiceVideoChatStarted
	case *tg.MessageActionGroupCallScheduled:
		return platform.ServiceVideoChatScheduled
	default:
		return platform.ServiceOther
	}
}

// mapMedia splits a message media value into its three neutral projections.
// A message carries at most one of poll, preview, or a media attachment.
func mapMedia(media tg.MessageMediaClass) ([]platform.Media, *platform.Poll, *platform.LinkPreview) {
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok {
			return nil, nil, nil
		}
		if mapped := mapPhoto(photo); mapped != nil {
			return []platform.Media{*mapped}, nil, nil
		}
		return nil, nil, nil
	case *tg.MessageMediaDocument:
		document, ok := typed.GetDocument()
		if !ok {
			return nil, nil, nil
		}
		if mapped := mapDocument(document); mapped != nil {
			return []platform.Media{*mapped}, nil, nil
		}
		return nil, nil, nil
	case *tg.MessageMediaPoll:
		return nil, mapPoll(typed.Poll), nil
	case *tg.MessageMediaWebPage:
		return nil, nil, mapPreview(typed.Webpage)
	default:
		return nil, nil, nil
	}
}

func mapPhoto(photo tg.PhotoClass) *platform.Media {
	typed, ok := photo.(*tg.Photo)
	if !ok {
		return nil
	}

	width, height := largestPhotoDimensions(typed.Sizes)

	return &platform.Media{
		Kind: platform.MediaPhoto,
		ID:   strconv.FormatInt(typed.ID, 10),
		Ref: &tg.InputPhotoFileLocation{
			ID:            typed.ID,
			AccessHash:    typed.AccessHash,
			FileReference: typed.FileReference,
			ThumbSize:     largestPhotoSizeType(typed.Sizes),
		},
		Width:  width,
		Height: height,
	}
}

func mapDocument(document tg.DocumentClass) *platform.Media {
	typed, ok := document.(*tg.Document)
	if !ok {
		return nil
	}

	media := platform.Media{
		ID: strconv.FormatInt(typed.ID, 10),
		Ref: &tg.InputDocumentFileLocation{
			ID:            typed.ID,
			AccessHash:    typed.AccessHash,
			FileReference: typed.FileReference,
		},
		MIMEType:  typed.MimeType,
		SizeBytes: typed.Size,
	}
	media.Kind = platform.MediaDocument

	var round, voice bool
	for _, attribute := range typed.Attributes {
		switch attr := attribute.(type) {
		case *tg.DocumentAttributeVideo:
			media.Kind = platform.MediaVideo
			media.Width = attr.W
			media.Height = attr.H
			round = attr.RoundMessage
		case *tg.DocumentAttributeAudio:
			media.Kind = platform.MediaAudio
			voice = attr.Voice
		case *tg.DocumentAttributeAnimated:
			media.Kind = platform.MediaAnimation
		case *tg.DocumentAttributeSticker:
			media.Kind = platform.MediaSticker
		case *tg.DocumentAttributeImageSize:
			media.Width = attr.W
			media.Height = attr.H
		case *tg.DocumentAttributeFilename:
			media.FileName = attr.FileName
		}
	}
	if media.Kind == platform.MediaVideo && round {
		media.Kind = platform.MediaVideoNote
	}
	if media.Kind == platform.MediaAudio && voice {
		media.Kind = platform.MediaVoice
	}

	return &media
}

func mapPoll(poll tg.Poll) *platform.Poll {
	options := make([]string, 0, len(poll.Answers))
	for _, answer := range poll.Answers {
		options = append(options, answer.Text.Text)
	}

	return &platform.Poll{
		Question: poll.Question.Text,
		Options:  options,
	}
}

func mapPreview(webpage tg.WebPageClass) *platform.LinkPreview {
	typed, ok := webpage.(*tg.WebPage)
	if !ok {
		return nil
	}

	preview := platform.LinkPreview{URL: typed.URL}
	if siteName, ok := typed.GetSiteName(); ok {
		preview.SiteName = siteName
	}
	if title, ok := typed.GetTitle(); ok {
		preview.Title = title
	}
	if description, ok := typed.GetDescription(); ok {
		preview.Description = description
	}
	if photo, ok := typed.GetPhoto(); ok {
		preview.Photo = mapPhoto(photo)
	}

	return &preview
}

func mapForward(header tg.MessageFwdHeader, entities entityIndex) *platform.Forward {
	forward := platform.Forward{}

	if fromID, ok := header.GetFromID(); ok {
		switch peer := fromID.(type) {
		case *tg.PeerChannel:
			if origin, found := entities.channelsByID[peer.ChannelID]; found {
				forward.Title = origin.Title
				if username, hasUsername := origin.GetUsername(); hasUsername {
					forward.Handle = username
				}
			} else {
				forward.Title = entities.chatTitles[peer.ChannelID]
			}
		case *tg.PeerChat:
			forward.Title = entities.chatTitles[peer.ChatID]
		case *tg.PeerUser:
			if user, found := entities.usersByID[peer.UserID]; found {
				forward.Sender = displayName(user)
			}
		}
	}
	if fromName, ok := header.GetFromName(); ok && forward.Sender == "" {
		forward.Sender = fromName
	}

	return &forward
}

func mapReply(header tg.MessageReplyHeaderClass) *platform.Reply {
	typed, ok := header.(*tg.MessageReplyHeader)
	if !ok {
		return nil
	}

	replyToID, ok := typed.GetReplyToMsgID()
	if !ok {
		return nil
	}

	reply := platform.Reply{ToID: int64(replyToID)}
	if quote, hasQuote := typed.GetQuoteText(); hasQuote {
		reply.Quote = quote
	}

	return &reply
}

func mapReactions(reactions tg.MessageReactions) []platform.Reaction {
	if len(reactions.Results) == 0 {
		return nil
	}

	out := make([]platform.Reaction, 0, len(reactions.Results))
	for _, result := range reactions.Results {
		emoji := reactionEmoji(result.Reaction)
		if emoji == "" {
			continue
		}
		out = append(out, platform.Reaction{Emoji: emoji, Count: result.Count})
	}
	if len(out) == 0 {
		return nil
	}

	return out
}

func reactionEmoji(reaction tg.ReactionClass) string {
	typed, ok := reaction.(*tg.ReactionEmoji)
	if !ok {
		return ""
	}
	return typed.Emoticon
}

func displayName(user *tg.User) string {
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	name := strings.TrimSpace(firstName + " " + lastName)
	if name == "" {
		name, _ = user.GetUsername()
	}

	return name
}

// largestPhotoSizeType picks the thumb size identifier of the biggest
// available photo rendition. The download location needs it verbatim.
func largestPhotoSizeType(sizes []tg.PhotoSizeClass) string {
	bestType := ""
	bestArea := -1
	for _, size := range sizes {
		var sizeType string
		var area int
		switch typed := size.(type) {
		case *tg.PhotoSize:
			sizeType, area = typed.Type, typed.W*typed.H
		case *tg.PhotoSizeProgressive:
			sizeType, area = typed.Type, typed.W*typed.H
		case *tg.PhotoCachedSize:
			sizeType, area = typed.Type, typed.W*typed.H
		default:
			continue
		}
		if area > bestArea {
			bestType, bestArea = sizeType, area
		}
	}
	if bestType == "" {
		return "x"
	}

	return bestType
}

func largestPhotoDimensions(sizes []tg.PhotoSizeClass) (int, int) {
	bestW, bestH := 0, 0
	for _, size := range sizes {
		switch typed := size.(type) {
		case *tg.PhotoSize:
			if typed.W*typed.H > bestW*bestH {
				bestW, bestH = typed.W, typed.H
			}
		case *tg.PhotoSizeProgressive:
			if typed.W*typed.H > bestW*bestH {
				bestW, bestH = typed.W, typed.H
			}
		}
	}

	return bestW, bestH
}
