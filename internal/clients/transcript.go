package clients

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNoTranscript is returned when a video has no usable caption track
var ErrNoTranscript = errors.New("no transcript available")

// playerResponseMarker marks the start of the player response JSON in watch page HTML
const playerResponseMarker = "ytInitialPlayerResponse = "

// Segment is one timed caption line
type Segment struct {
	Text     string
	Start    float64
	Duration float64
}

// JoinSegments joins segment texts with single spaces
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type playerResponse struct {
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type timedText struct {
	Lines []struct {
		Start    float64 `xml:"start,attr"`
		Duration float64 `xml:"dur,attr"`
		Text     string  `xml:",chardata"`
	} `xml:"text"`
}

// TranscriptClient fetches caption tracks from the YouTube watch page
type TranscriptClient struct {
	watchURL   string
	languages  []string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewTranscriptClient creates a caption client. watchURL is the site root,
// normally https://www.youtube.com.
func NewTranscriptClient(watchURL string, retry RetryPolicy) *TranscriptClient {
	return &TranscriptClient{
		watchURL:   strings.TrimRight(watchURL, "/"),
		languages:  []string{"en"},
		httpClient: newHTTPClient(30 * time.Second),
		retry:      retry,
	}
}

// Transcript returns the caption segments of a video. Videos without a
// usable track return ErrNoTranscript.
func (c *TranscriptClient) Transcript(ctx context.Context, videoID string) ([]Segment, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "transcript.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("video.id", videoID))

	segments, err := c.fetch(ctx, videoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcript fetch failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("transcript.segments", len(segments)))
	span.SetStatus(codes.Ok, "success")
	return segments, nil
}

func (c *TranscriptClient) fetch(ctx context.Context, videoID string) ([]Segment, error) {
	pageURL := c.watchURL + "/watch?v=" + url.QueryEscape(videoID)
	page, err := doWithRetry(ctx, c.httpClient, "youtube watch page", c.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch page: %w", err)
	}

	idx := strings.Index(string(page), playerResponseMarker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: player response not found", ErrNoTranscript)
	}
	raw := extractJSONObject(page[idx+len(playerResponseMarker):])
	if raw == nil {
		return nil, errors.New("failed to extract player response")
	}

	var player playerResponse
	if err := json.Unmarshal(raw, &player); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	if player.Captions == nil {
		if player.PlayabilityStatus != nil && player.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoTranscript, player.PlayabilityStatus.Reason)
		}
		return nil, ErrNoTranscript
	}

	tracks := player.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	track, ok := pickTrack(tracks, c.languages)
	if !ok {
		return nil, ErrNoTranscript
	}

	body, err := doWithRetry(ctx, c.httpClient, "youtube timedtext", c.retry, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, track.BaseURL, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch timedtext: %w", err)
	}
	return parseTimedText(body)
}

// pickTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track, then the first track.
func pickTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	if len(tracks) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range tracks {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range tracks {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range tracks {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return tracks[0], true
}

func parseTimedText(body []byte) ([]Segment, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}

	segments := make([]Segment, 0, len(tt.Lines))
	for _, line := range tt.Lines {
		// Caption text is HTML-escaped a second time inside the XML
		text := strings.Join(strings.Fields(html.UnescapeString(line.Text)), " ")
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Start: line.Start, Duration: line.Duration})
	}
	if len(segments) == 0 {
		return nil, ErrNoTranscript
	}
	return segments, nil
}

// extractJSONObject returns the balanced JSON object at the start of data
func extractJSONObject(data []byte) []byte {
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	depth := 0
	inString := false
	escaped := false
	for i, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return data[:i+1]
			}
		}
	}
	return nil
}
