package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/zombar/videotagger/internal/apicache"
)

// ErrVideoNotFound is returned when the Data API has no item for a video id
var ErrVideoNotFound = errors.New("video not found")

// maxVideosPerRequest is the Data API limit for ids and maxResults
const maxVideosPerRequest = 50

// ResponseCache stores GET response bodies keyed by request URL
type ResponseCache interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
	Set(ctx context.Context, rawURL string, body []byte) error
}

var _ ResponseCache = (*apicache.Cache)(nil)

// VideoSnippet is the part of a video's snippet needed to find its channel
type VideoSnippet struct {
	VideoID      string
	ChannelID    string
	ChannelTitle string
	Title        string
	Description  string
}

// VideoDetails is a video with statistics and duration
type VideoDetails struct {
	VideoID      string
	ChannelID    string
	Title        string
	Description  string
	Duration     string
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
}

// ChannelStats holds the channel counters
type ChannelStats struct {
	TotalVideos int64
	Subscribers int64
	About       string
}

// CommentItem is a top-level comment or a reply
type CommentItem struct {
	CommentID   string
	Author      string
	Likes       int64
	PublishedAt string
	UpdatedAt   string
	ParentID    string
	Text        string
}

// YouTubeClient talks to the YouTube Data API v3
type YouTubeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      ResponseCache
	retry      RetryPolicy
	log        *logrus.Entry
}

// YouTubeOption customizes a YouTubeClient
type YouTubeOption func(*YouTubeClient)

// WithResponseCache caches successful GET responses
func WithResponseCache(cache ResponseCache) YouTubeOption {
	return func(c *YouTubeClient) { c.cache = cache }
}

// WithRateLimit caps outgoing requests per second
func WithRateLimit(perSecond float64) YouTubeOption {
	return func(c *YouTubeClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithYouTubeLogger sets the logger for non-fatal failures
func WithYouTubeLogger(log *logrus.Entry) YouTubeOption {
	return func(c *YouTubeClient) { c.log = log }
}

// WithYouTubeRetry overrides the retry policy
func WithYouTubeRetry(policy RetryPolicy) YouTubeOption {
	return func(c *YouTubeClient) { c.retry = policy }
}

// NewYouTubeClient creates a new Data API client
func NewYouTubeClient(baseURL, apiKey string, opts ...YouTubeOption) *YouTubeClient {
	c := &YouTubeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: newHTTPClient(30 * time.Second),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		retry:      DefaultRetryPolicy,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a cached, rate-limited GET against a Data API resource
func (c *YouTubeClient) get(ctx context.Context, resource string, params url.Values, out interface{}) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "youtube."+resource)
	defer span.End()

	// The cache key is built without the API key
	cacheURL := fmt.Sprintf("%s/%s?%s", c.baseURL, resource, params.Encode())
	span.SetAttributes(attribute.String("youtube.resource", resource))

	if c.cache != nil {
		if body, err := c.cache.Get(ctx, cacheURL); err == nil && body != nil {
			span.SetAttributes(attribute.Bool("youtube.cache_hit", true))
			if err := json.Unmarshal(body, out); err == nil {
				return nil
			}
		}
	}

	withKey := url.Values{}
	for k, v := range params {
		withKey[k] = v
	}
	withKey.Set("key", c.apiKey)
	requestURL := fmt.Sprintf("%s/%s?%s", c.baseURL, resource, withKey.Encode())

	body, err := doWithRetry(ctx, c.httpClient, "youtube", c.retry, func(ctx context.Context) (*http.Request, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal response")
		return fmt.Errorf("failed to unmarshal %s response: %w", resource, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheURL, body); err != nil {
			// Log error but don't fail the request
			c.log.WithError(err).WithField("resource", resource).Warn("failed to cache youtube response")
		}
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
			Title        string `json:"title"`
			Description  string `json:"description"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// VideoSnippet fetches the snippet of a single video. A video the API does
// not know returns ErrVideoNotFound.
func (c *YouTubeClient) VideoSnippet(ctx context.Context, videoID string) (*VideoSnippet, error) {
	var resp videoListResponse
	params := url.Values{"part": {"snippet"}, "id": {videoID}}
	if err := c.get(ctx, "videos", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, ErrVideoNotFound
	}

	item := resp.Items[0]
	return &VideoSnippet{
		VideoID:      item.ID,
		ChannelID:    item.Snippet.ChannelID,
		ChannelTitle: item.Snippet.ChannelTitle,
		Title:        item.Snippet.Title,
		Description:  item.Snippet.Description,
	}, nil
}

// TopVideos returns up to n video ids of a channel ordered by view count
func (c *YouTubeClient) TopVideos(ctx context.Context, channelID string, n int) ([]string, error) {
	if n > maxVideosPerRequest {
		n = maxVideosPerRequest
	}
	var resp struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	params := url.Values{
		"part":       {"id"},
		"channelId":  {channelID},
		"maxResults": {strconv.Itoa(n)},
		"order":      {"viewCount"},
		"type":       {"video"},
	}
	if err := c.get(ctx, "search", params, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return ids, nil
}

// VideoDetails fetches snippet, statistics and duration for a set of videos
func (c *YouTubeClient) VideoDetails(ctx context.Context, videoIDs []string) ([]VideoDetails, error) {
	details := make([]VideoDetails, 0, len(videoIDs))
	for start := 0; start < len(videoIDs); start += maxVideosPerRequest {
		end := start + maxVideosPerRequest
		if end > len(videoIDs) {
			end = len(videoIDs)
		}

		var resp videoListResponse
		params := url.Values{
			"part": {"snippet,statistics,contentDetails"},
			"id":   {strings.Join(videoIDs[start:end], ",")},
		}
		if err := c.get(ctx, "videos", params, &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			duration := item.ContentDetails.Duration
			if duration == "" {
				duration = "N/A"
			}
			details = append(details, VideoDetails{
				VideoID:      item.ID,
				ChannelID:    item.Snippet.ChannelID,
				Title:        item.Snippet.Title,
				Description:  item.Snippet.Description,
				Duration:     duration,
				ViewCount:    parseCount(item.Statistics.ViewCount),
				LikeCount:    parseCount(item.Statistics.LikeCount),
				CommentCount: parseCount(item.Statistics.CommentCount),
			})
		}
	}
	return details, nil
}

// ChannelStats fetches subscriber and video counts for a channel
func (c *YouTubeClient) ChannelStats(ctx context.Context, channelID string) (*ChannelStats, error) {
	var resp struct {
		Items []struct {
			Snippet struct {
				Description string `json:"description"`
			} `json:"snippet"`
			Statistics struct {
				VideoCount      string `json:"videoCount"`
				SubscriberCount string `json:"subscriberCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	params := url.Values{"part": {"snippet,statistics"}, "id": {channelID}}
	if err := c.get(ctx, "channels", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}

	item := resp.Items[0]
	return &ChannelStats{
		TotalVideos: parseCount(item.Statistics.VideoCount),
		Subscribers: parseCount(item.Statistics.SubscriberCount),
		About:       item.Snippet.Description,
	}, nil
}

type commentSnippet struct {
	AuthorDisplayName string `json:"authorDisplayName"`
	LikeCount         int64  `json:"likeCount"`
	PublishedAt       string `json:"publishedAt"`
	UpdatedAt         string `json:"updatedAt"`
	TextOriginal      string `json:"textOriginal"`
}

// Comments returns up to n comments of a video, ordered by relevance. Each
// thread is followed by its replies, which carry the thread id as ParentID.
func (c *YouTubeClient) Comments(ctx context.Context, videoID string, n int) ([]CommentItem, error) {
	if n <= 0 {
		return []CommentItem{}, nil
	}
	maxResults := n
	if maxResults > 100 {
		maxResults = 100
	}

	var resp struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				TopLevelComment struct {
					Snippet commentSnippet `json:"snippet"`
				} `json:"topLevelComment"`
			} `json:"snippet"`
			Replies *struct {
				Comments []struct {
					ID      string         `json:"id"`
					Snippet commentSnippet `json:"snippet"`
				} `json:"comments"`
			} `json:"replies"`
		} `json:"items"`
	}
	params := url.Values{
		"part":       {"snippet,replies"},
		"videoId":    {videoID},
		"maxResults": {strconv.Itoa(maxResults)},
		"order":      {"relevance"},
	}
	if err := c.get(ctx, "commentThreads", params, &resp); err != nil {
		return nil, err
	}

	comments := make([]CommentItem, 0, n)
	for _, item := range resp.Items {
		top := item.Snippet.TopLevelComment.Snippet
		comments = append(comments, CommentItem{
			CommentID:   item.ID,
			Author:      top.AuthorDisplayName,
			Likes:       top.LikeCount,
			PublishedAt: top.PublishedAt,
			UpdatedAt:   top.UpdatedAt,
			Text:        top.TextOriginal,
		})
		if item.Replies != nil {
			for _, reply := range item.Replies.Comments {
				comments = append(comments, CommentItem{
					CommentID:   reply.ID,
					Author:      reply.Snippet.AuthorDisplayName,
					Likes:       reply.Snippet.LikeCount,
					PublishedAt: reply.Snippet.PublishedAt,
					UpdatedAt:   reply.Snippet.UpdatedAt,
					ParentID:    item.ID,
					Text:        reply.Snippet.TextOriginal,
				})
			}
		}
		if len(comments) >= n {
			break
		}
	}
	if len(comments) > n {
		comments = comments[:n]
	}
	return comments, nil
}

// parseCount reads a Data API counter, which arrives as a decimal string
func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
