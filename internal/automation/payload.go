package automation

import (
	"encoding/json"
	"strings"
)

// DefaultSenderName is the display name on automated chat messages that do not
// set one.
const DefaultSenderName = "Webinar Bot"

// MessagePayload is the TIMED_MESSAGE and KEYWORD_REPLY chat body.
type MessagePayload struct {
	SenderName string `json:"sender_name,omitempty"`
	Message    string `json:"message"`
}

// CTAPayload is the CTA_POPUP body pushed to viewers.
type CTAPayload struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	ButtonText      string `json:"button_text"`
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
}

// BannerPayload is the OFFER_BANNER body. Banners are transient: clients
// auto-dismiss after DurationSeconds.
type BannerPayload struct {
	Text            string `json:"text"`
	URL             string `json:"url,omitempty"`
	BackgroundColor string `json:"background_color"`
	TextColor       string `json:"text_color"`
	DurationSeconds int    `json:"duration_seconds"`
}

// KeywordPayload is the KEYWORD_REPLY rule: when an incoming chat message
// contains Keyword (case-insensitive), Reply is sent as an automated message.
type KeywordPayload struct {
	Keyword    string `json:"keyword"`
	Reply      string `json:"reply"`
	SenderName string `json:"sender_name,omitempty"`
}

// DecodeMessage parses a TIMED_MESSAGE payload. A payload that is not valid
// JSON is treated as the plain message text so a sloppy import still posts
// something rather than firing into the void.
func DecodeMessage(raw json.RawMessage) MessagePayload {
	var p MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		p.Message = strings.TrimSpace(string(raw))
	}
	if p.SenderName == "" {
		p.SenderName = DefaultSenderName
	}
	return p
}

// DecodeCTA parses a CTA_POPUP payload, filling defaults for missing fields.
func DecodeCTA(raw json.RawMessage) CTAPayload {
	var p CTAPayload
	_ = json.Unmarshal(raw, &p)
	if p.Title == "" {
		p.Title = "Special Offer"
	}
	if p.ButtonText == "" {
		p.ButtonText = "Learn More"
	}
	if p.URL == "" {
		p.URL = "#"
	}
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = 30
	}
	return p
}

// DecodeBanner parses an OFFER_BANNER payload, filling defaults.
func DecodeBanner(raw json.RawMessage) BannerPayload {
	var p BannerPayload
	_ = json.Unmarshal(raw, &p)
	if p.Text == "" {
		p.Text = "Limited Time Offer!"
	}
	if p.BackgroundColor == "" {
		p.BackgroundColor = "#6366f1"
	}
	if p.TextColor == "" {
		p.TextColor = "#ffffff"
	}
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = 60
	}
	return p
}

// DecodeKeyword parses a KEYWORD_REPLY rule. Rules without a keyword never
// match.
func DecodeKeyword(raw json.RawMessage) KeywordPayload {
	var p KeywordPayload
	_ = json.Unmarshal(raw, &p)
	if p.SenderName == "" {
		p.SenderName = DefaultSenderName
	}
	return p
}

// Matches reports whether text contains the rule keyword, case-insensitive.
func (p KeywordPayload) Matches(text string) bool {
	if p.Keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(p.Keyword))
}
