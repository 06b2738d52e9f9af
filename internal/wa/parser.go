package wa

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message types with downloadable media.
const (
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeDocument = "document"
)

// Content is the typed body of an inbound message. Exactly one variant is
// produced per message.
type Content interface {
	isContent()
}

type TextContent struct {
	Body string
}

type MediaContent struct {
	Type     string // image, video, audio, document
	MediaID  string
	MimeType string
	Caption  string
	Filename string
}

type LocationContent struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type ContactsContent struct {
	Cards []ContactCard
}

type UnsupportedContent struct {
	Type string
}

func (TextContent) isContent()        {}
func (MediaContent) isContent()       {}
func (LocationContent) isContent()    {}
func (ContactsContent) isContent()    {}
func (UnsupportedContent) isContent() {}

// ParseContent resolves the sub-object selected by m.Type.
func ParseContent(m *Message) Content {
	media := func(typ string, md *Media) Content {
		if md == nil {
			return MediaContent{Type: typ}
		}
		return MediaContent{Type: typ, MediaID: md.ID, MimeType: md.MimeType, Caption: md.Caption, Filename: md.Filename}
	}
	switch m.Type {
	case "text":
		if m.Text == nil {
			return TextContent{}
		}
		return TextContent{Body: m.Text.Body}
	case TypeImage:
		return media(TypeImage, m.Image)
	case TypeVideo:
		return media(TypeVideo, m.Video)
	case TypeAudio:
		return media(TypeAudio, m.Audio)
	case TypeDocument:
		return media(TypeDocument, m.Document)
	case "location":
		if m.Location == nil {
			return LocationContent{}
		}
		return LocationContent{Latitude: m.Location.Latitude, Longitude: m.Location.Longitude, Name: m.Location.Name, Address: m.Location.Address}
	case "contacts":
		return ContactsContent{Cards: m.Contacts}
	default:
		return UnsupportedContent{Type: m.Type}
	}
}

// ExtractBody derives the stored message body: the text, the media caption,
// or a placeholder for content without text.
func ExtractBody(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return v.Body
	case MediaContent:
		return v.Caption
	case LocationContent:
		var b strings.Builder
		b.WriteString("[location]")
		for _, part := range []string{v.Name, v.Address} {
			if part != "" {
				b.WriteString(" " + part)
			}
		}
		fmt.Fprintf(&b, " (%s, %s)",
			strconv.FormatFloat(v.Latitude, 'f', -1, 64),
			strconv.FormatFloat(v.Longitude, 'f', -1, 64))
		return b.String()
	case ContactsContent:
		names := make([]string, 0, len(v.Cards))
		for _, card := range v.Cards {
			name := card.Name.FormattedName
			if name == "" && len(card.Phones) > 0 {
				name = card.Phones[0].Phone
			}
			if name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return "[contact]"
		}
		return "[contact] " + strings.Join(names, ", ")
	case UnsupportedContent:
		if v.Type == "" {
			return "[unsupported message]"
		}
		return "[unsupported message: " + v.Type + "]"
	default:
		panic(fmt.Sprintf("wa: unhandled content %T", c))
	}
}

// MediaInfo returns the media descriptor when the content carries media.
func MediaInfo(c Content) (MediaContent, bool) {
	switch v := c.(type) {
	case MediaContent:
		return v, true
	case TextContent, LocationContent, ContactsContent, UnsupportedContent:
		return MediaContent{}, false
	default:
		panic(fmt.Sprintf("wa: unhandled content %T", c))
	}
}

// IsMediaType reports whether a message type carries downloadable media.
func IsMediaType(typ string) bool {
	switch typ {
	case TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return true
	}
	return false
}

// ParseTimestamp converts a unix-seconds string. Returns fallback when the
// value is missing or malformed.
func ParseTimestamp(raw string, fallback time.Time) time.Time {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sec <= 0 {
		return fallback
	}
	return time.Unix(sec, 0)
}
