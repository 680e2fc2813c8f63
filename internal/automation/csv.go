package automation

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/evergreen-live/backend/internal/models"
)

// ParseCSV reads a timeline export in the 6-column format
// hour,minute,second,name,message,mode and returns the events it describes.
// A header row is detected by a non-numeric first field and skipped. Blank
// lines are ignored. The mode column selects the event kind; any mode other
// than cta/banner/offer is a timed chat message.
func ParseCSV(r io.Reader) ([]models.AutomationEvent, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var events []models.AutomationEvent
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}
		line++

		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		if line == 1 {
			if _, err := strconv.Atoi(strings.TrimSpace(record[0])); err != nil {
				continue // header row
			}
		}
		if len(record) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 columns, got %d", line, len(record))
		}

		offset, err := parseOffset(record[0], record[1], record[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		name := strings.TrimSpace(record[3])
		message := strings.TrimSpace(record[4])
		mode := ""
		if len(record) > 5 {
			mode = strings.ToLower(strings.TrimSpace(record[5]))
		}

		kind, payload, err := buildPayload(mode, name, message)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		events = append(events, models.AutomationEvent{
			Kind:                 kind,
			TriggerOffsetSeconds: offset,
			Payload:              payload,
			Enabled:              true,
		})
	}
	return events, nil
}

func parseOffset(h, m, s string) (int, error) {
	hour, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, fmt.Errorf("bad hour %q", h)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil {
		return 0, fmt.Errorf("bad minute %q", m)
	}
	second, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad second %q", s)
	}
	if hour < 0 || minute < 0 || second < 0 {
		return 0, fmt.Errorf("negative time component %s:%s:%s", h, m, s)
	}
	return hour*3600 + minute*60 + second, nil
}

// buildPayload maps the mode column to an event kind. Only "cta" and the
// banner modes are special; every other mode, known or not, is a timed chat
// message so exports from external tooling (e.g. mode "MSG") import cleanly.
func buildPayload(mode, name, message string) (models.AutomationKind, json.RawMessage, error) {
	switch mode {
	case "cta":
		body, err := json.Marshal(CTAPayload{Title: message, ButtonText: "Learn More", URL: "#", DurationSeconds: 30})
		return models.KindCTAPopup, body, err
	case "banner", "offer":
		body, err := json.Marshal(BannerPayload{Text: message, BackgroundColor: "#6366f1", TextColor: "#ffffff", DurationSeconds: 60})
		return models.KindOfferBanner, body, err
	default:
		body, err := json.Marshal(MessagePayload{SenderName: name, Message: message})
		return models.KindTimedMessage, body, err
	}
}
