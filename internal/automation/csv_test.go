package automation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evergreen-live/backend/internal/models"
)

func TestParseCSVMapsColumns(t *testing.T) {
	input := "hour,minute,second,name,message,mode\n" +
		"0,0,30,Sarah,Welcome to the session!,message\n" +
		"0,15,0,,Grab the launch discount,cta\n" +
		"1,2,3,,Only 10 seats left,banner\n"

	events, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.KindTimedMessage, events[0].Kind)
	assert.Equal(t, 30, events[0].TriggerOffsetSeconds)
	assert.True(t, events[0].Enabled)
	p := DecodeMessage(events[0].Payload)
	assert.Equal(t, "Sarah", p.SenderName)
	assert.Equal(t, "Welcome to the session!", p.Message)

	assert.Equal(t, models.KindCTAPopup, events[1].Kind)
	assert.Equal(t, 15*60, events[1].TriggerOffsetSeconds)
	cta := DecodeCTA(events[1].Payload)
	assert.Equal(t, "Grab the launch discount", cta.Title)

	assert.Equal(t, models.KindOfferBanner, events[2].Kind)
	assert.Equal(t, 3723, events[2].TriggerOffsetSeconds)
	banner := DecodeBanner(events[2].Payload)
	assert.Equal(t, "Only 10 seats left", banner.Text)
}

func TestParseCSVWithoutHeader(t *testing.T) {
	input := "0,1,0,Bot,hello,message\n"

	events, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 60, events[0].TriggerOffsetSeconds)
}

func TestParseCSVDefaultsModeToMessage(t *testing.T) {
	input := "0,0,5,Bot,just checking in\n"

	events, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.KindTimedMessage, events[0].Kind)
}

func TestParseCSVExternalToolingModes(t *testing.T) {
	input := "0,1,0,Bot,Welcome!,MSG\n" +
		"0,2,0,,Special deal,CTA\n"

	events, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, models.KindTimedMessage, events[0].Kind)
	assert.Equal(t, 60, events[0].TriggerOffsetSeconds)
	assert.Equal(t, "Welcome!", DecodeMessage(events[0].Payload).Message)

	assert.Equal(t, models.KindCTAPopup, events[1].Kind)
	assert.Equal(t, 120, events[1].TriggerOffsetSeconds)
	assert.Equal(t, "Special deal", DecodeCTA(events[1].Payload).Title)
}

func TestParseCSVUnknownModeFallsBackToMessage(t *testing.T) {
	input := "0,0,10,Bot,see the resources tab,popup\n"

	events, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.KindTimedMessage, events[0].Kind)
	assert.Equal(t, "see the resources tab", DecodeMessage(events[0].Payload).Message)
}

func TestParseCSVRejectsBadRows(t *testing.T) {
	cases := map[string]string{
		"bad hour":      "x,0,0,Bot,hi,message\nx,0,0,Bot,hi,message\n",
		"negative time": "0,-1,0,Bot,hi,message\n",
		"short row":     "0,0,0\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}
