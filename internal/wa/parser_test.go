package wa

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseContent(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want Content
	}{
		{"text", Message{Type: "text", Text: &Text{Body: "hello"}}, TextContent{Body: "hello"}},
		{"text without object", Message{Type: "text"}, TextContent{}},
		{"image", Message{Type: "image", Image: &Media{ID: "m1", MimeType: "image/jpeg", Caption: "look"}},
			MediaContent{Type: TypeImage, MediaID: "m1", MimeType: "image/jpeg", Caption: "look"}},
		{"document", Message{Type: "document", Document: &Media{ID: "d1", MimeType: "application/pdf", Filename: "a.pdf"}},
			MediaContent{Type: TypeDocument, MediaID: "d1", MimeType: "application/pdf", Filename: "a.pdf"}},
		{"audio missing object", Message{Type: "audio"}, MediaContent{Type: TypeAudio}},
		{"location", Message{Type: "location", Location: &Location{Latitude: 1.5, Longitude: -2}}, LocationContent{Latitude: 1.5, Longitude: -2}},
		{"sticker", Message{Type: "sticker", Sticker: &Media{ID: "s"}}, UnsupportedContent{Type: "sticker"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseContent(&tt.msg)
			if got != tt.want {
				t.Errorf("ParseContent() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtractBody(t *testing.T) {
	card := ContactCard{}
	card.Name.FormattedName = "Eve"

	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{"text", TextContent{Body: "hi"}, "hi"},
		{"caption", MediaContent{Type: TypeImage, Caption: "pic"}, "pic"},
		{"media without caption", MediaContent{Type: TypeVideo}, ""},
		{"location", LocationContent{Latitude: -23.5, Longitude: -46.6, Name: "Office"}, "[location] Office (-23.5, -46.6)"},
		{"contacts", ContactsContent{Cards: []ContactCard{card}}, "[contact] Eve"},
		{"empty contacts", ContactsContent{}, "[contact]"},
		{"unsupported", UnsupportedContent{Type: "reaction"}, "[unsupported message: reaction]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractBody(tt.content); got != tt.want {
				t.Errorf("ExtractBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMediaInfo(t *testing.T) {
	if _, ok := MediaInfo(TextContent{Body: "x"}); ok {
		t.Error("text should carry no media")
	}
	info, ok := MediaInfo(MediaContent{Type: TypeImage, MediaID: "m"})
	if !ok || info.MediaID != "m" {
		t.Errorf("MediaInfo() = %+v, %v", info, ok)
	}
}

func TestDecodeWebhookPayload(t *testing.T) {
	raw := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "WABA",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550001", "phone_number_id": "PNID"},
					"contacts": [{"wa_id": "5511999", "profile": {"name": "Zoe"}}],
					"messages": [{"from": "5511999", "id": "wamid.A", "timestamp": "1700000000", "type": "image",
						"image": {"id": "media-1", "mime_type": "image/png", "caption": "receipt"}}],
					"statuses": [{"id": "wamid.B", "status": "read", "timestamp": "1700000100", "recipient_id": "5511999"}]
				}
			}]
		}]
	}`

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	v := p.Entry[0].Changes[0].Value
	if v.Metadata.PhoneNumberID != "PNID" {
		t.Errorf("phone_number_id = %q", v.Metadata.PhoneNumberID)
	}
	if v.Contacts[0].Profile.Name != "Zoe" {
		t.Errorf("profile name = %q", v.Contacts[0].Profile.Name)
	}
	info, ok := MediaInfo(ParseContent(&v.Messages[0]))
	if !ok || info.MediaID != "media-1" || info.Caption != "receipt" {
		t.Errorf("media = %+v", info)
	}
	if v.Statuses[0].Status != "read" {
		t.Errorf("status = %q", v.Statuses[0].Status)
	}
}

func TestParseTimestamp(t *testing.T) {
	fallback := time.Unix(42, 0)
	if got := ParseTimestamp("1700000000", fallback); got.Unix() != 1700000000 {
		t.Errorf("got %v", got)
	}
	if got := ParseTimestamp("", fallback); !got.Equal(fallback) {
		t.Errorf("empty timestamp = %v, want fallback", got)
	}
	if got := ParseTimestamp("abc", fallback); !got.Equal(fallback) {
		t.Errorf("bad timestamp = %v, want fallback", got)
	}
}
