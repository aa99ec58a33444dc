package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
)

// Handler defines the interface for all update handlers in the system
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}

// MediaKind tags the supported payload variants of a submission.
type MediaKind string

const (
	MediaText  MediaKind = "text"
	MediaPhoto MediaKind = "photo"
	MediaAudio MediaKind = "audio"
	MediaVoice MediaKind = "voice"
)

// MediaPayload is the tagged variant a submission is classified into once,
// at intake. FileID and Duration are set for non-text kinds only.
type MediaPayload struct {
	Kind MediaKind
	// Text is the message text, or the caption for media kinds.
	Text string
	// FileID addresses the media on the transport side.
	FileID string
	// Duration is the audio/voice length in seconds.
	Duration int
}

// ExtractMedia classifies a message into a MediaPayload. The second result
// is false for message types the relay does not accept.
func ExtractMedia(msg *api.Message) (MediaPayload, bool) {
	if msg == nil {
		return MediaPayload{}, false
	}
	switch {
	case msg.Photo != nil:
		photos := msg.Photo
		return MediaPayload{
			Kind:   MediaPhoto,
			Text:   msg.Caption,
			FileID: photos[len(photos)-1].FileID,
		}, true
	case msg.Audio != nil:
		return MediaPayload{
			Kind:     MediaAudio,
			Text:     msg.Caption,
			FileID:   msg.Audio.FileID,
			Duration: msg.Audio.Duration,
		}, true
	case msg.Voice != nil:
		return MediaPayload{
			Kind:     MediaVoice,
			Text:     msg.Caption,
			FileID:   msg.Voice.FileID,
			Duration: msg.Voice.Duration,
		}, true
	case msg.Text != "":
		return MediaPayload{Kind: MediaText, Text: msg.Text}, true
	}
	return MediaPayload{}, false
}

// Chattable builds the outbound message carrying this payload with text as
// its text/caption, addressed to chatID. The single dispatch point for the
// payload variants.
func (p MediaPayload) Chattable(chatID int64, text string) api.Chattable {
	return p.ChattableWithMarkup(chatID, text, nil)
}

// ChattableWithMarkup is Chattable with an optional inline keyboard attached.
func (p MediaPayload) ChattableWithMarkup(chatID int64, text string, markup any) api.Chattable {
	switch p.Kind {
	case MediaPhoto:
		photo := api.NewPhoto(chatID, api.FileID(p.FileID))
		photo.Caption = text
		photo.ReplyMarkup = markup
		return photo
	case MediaAudio:
		audio := api.NewAudio(chatID, api.FileID(p.FileID))
		audio.Caption = text
		audio.ReplyMarkup = markup
		return audio
	case MediaVoice:
		voice := api.NewVoice(chatID, api.FileID(p.FileID))
		voice.Caption = text
		voice.ReplyMarkup = markup
		return voice
	default:
		msg := api.NewMessage(chatID, text)
		msg.ReplyMarkup = markup
		return msg
	}
}
