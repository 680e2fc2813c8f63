package automation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeMessageDefaultsSender(t *testing.T) {
	p := DecodeMessage(json.RawMessage(`{"message":"hi there"}`))
	assert.Equal(t, DefaultSenderName, p.SenderName)
	assert.Equal(t, "hi there", p.Message)
}

func TestDecodeMessageFallsBackToPlainText(t *testing.T) {
	p := DecodeMessage(json.RawMessage(`not json at all`))
	assert.Equal(t, "not json at all", p.Message)
	assert.Equal(t, DefaultSenderName, p.SenderName)
}

func TestDecodeCTADefaults(t *testing.T) {
	p := DecodeCTA(json.RawMessage(`{}`))
	assert.Equal(t, "Special Offer", p.Title)
	assert.Equal(t, "Learn More", p.ButtonText)
	assert.Equal(t, "#", p.URL)
	assert.Equal(t, 30, p.DurationSeconds)
}

func TestDecodeBannerDefaults(t *testing.T) {
	p := DecodeBanner(json.RawMessage(`{}`))
	assert.Equal(t, "Limited Time Offer!", p.Text)
	assert.Equal(t, "#6366f1", p.BackgroundColor)
	assert.Equal(t, "#ffffff", p.TextColor)
	assert.Equal(t, 60, p.DurationSeconds)
}

func TestKeywordMatchesCaseInsensitive(t *testing.T) {
	p := KeywordPayload{Keyword: "Price"}
	assert.True(t, p.Matches("what is the PRICE?"))
	assert.True(t, p.Matches("priceless")) // substring match is intentional
	assert.False(t, p.Matches("how much does it cost"))

	empty := KeywordPayload{}
	assert.False(t, empty.Matches("anything"))
}
