package platform

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"unicode/utf8"

	"github.com/djlord-it/easy-post/internal/domain"
)

const (
	DefaultTwitterURL       = "https://api.twitter.com"
	DefaultTwitterUploadURL = "https://upload.twitter.com"

	TwitterMaxRunes = 280
	maxTweetMedia   = 4
)

// Twitter posts short text with up to four uploaded images.
type Twitter struct {
	apiURL    string
	uploadURL string
	c         *client
}

func NewTwitter(apiURL, uploadURL string, opts ...Option) *Twitter {
	if apiURL == "" {
		apiURL = DefaultTwitterURL
	}
	if uploadURL == "" {
		uploadURL = DefaultTwitterUploadURL
	}
	return &Twitter{apiURL: apiURL, uploadURL: uploadURL, c: newClient(opts)}
}

func (t *Twitter) Platform() domain.Platform { return domain.PlatformTwitter }

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

func (t *Twitter) Publish(ctx context.Context, req PublishRequest) Result {
	if err := requireToken(domain.PlatformTwitter, req.Connection); err != nil {
		return failed(err)
	}
	if n := utf8.RuneCountInString(req.Content); n > TwitterMaxRunes {
		return Failure(domain.FailurePlatformRejected, "twitter: text exceeds 280 characters")
	}

	body := tweetRequest{Text: req.Content}
	refs := req.MediaRefs
	if len(refs) > maxTweetMedia {
		refs = refs[:maxTweetMedia]
	}
	for _, ref := range refs {
		id, perr := t.upload(ctx, req.Connection, ref)
		if perr != nil {
			return failed(perr)
		}
		if body.Media == nil {
			body.Media = &tweetMedia{}
		}
		body.Media.MediaIDs = append(body.Media.MediaIDs, id)
	}

	payload, perr := jsonBody(body)
	if perr != nil {
		return failed(perr)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if _, perr := t.c.do(ctx, request{
		method:      http.MethodPost,
		url:         endpoint(t.apiURL, "2", "tweets"),
		token:       req.Connection.AccessToken,
		contentType: "application/json",
		body:        payload,
	}, &out); perr != nil {
		return failed(perr)
	}
	if out.Data.ID == "" {
		return Failure(domain.FailurePlatformRejected, "twitter: response has no tweet id")
	}
	return Success(out.Data.ID)
}

// upload downloads ref and pushes it to the media endpoint, returning the
// platform media id.
func (t *Twitter) upload(ctx context.Context, conn domain.PlatformConnection, ref string) (string, *Error) {
	data, _, perr := t.c.download(ctx, ref)
	if perr != nil {
		return "", perr
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", "media")
	if err != nil {
		return "", newError(domain.FailurePlatformRejected, 0, "twitter: build upload: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", newError(domain.FailurePlatformRejected, 0, "twitter: build upload: %v", err)
	}
	if err := w.Close(); err != nil {
		return "", newError(domain.FailurePlatformRejected, 0, "twitter: build upload: %v", err)
	}

	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if _, perr := t.c.do(ctx, request{
		method:      http.MethodPost,
		url:         endpoint(t.uploadURL, "1.1", "media", "upload.json"),
		token:       conn.AccessToken,
		contentType: w.FormDataContentType(),
		body:        buf.Bytes(),
	}, &out); perr != nil {
		return "", perr
	}
	if out.MediaIDString == "" {
		return "", newError(domain.FailurePlatformRejected, 0, "twitter: upload response has no media id")
	}
	return out.MediaIDString, nil
}

func (t *Twitter) FetchMetrics(ctx context.Context, postID string, conn domain.PlatformConnection) (Metrics, error) {
	if err := requireToken(domain.PlatformTwitter, conn); err != nil {
		return Metrics{}, err
	}

	var out struct {
		Data struct {
			PublicMetrics struct {
				RetweetCount    int64 `json:"retweet_count"`
				ReplyCount      int64 `json:"reply_count"`
				LikeCount       int64 `json:"like_count"`
				QuoteCount      int64 `json:"quote_count"`
				BookmarkCount   int64 `json:"bookmark_count"`
				ImpressionCount int64 `json:"impression_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if _, perr := t.c.do(ctx, request{
		method: http.MethodGet,
		url:    endpoint(t.apiURL, "2", "tweets", postID) + "?tweet.fields=public_metrics",
		token:  conn.AccessToken,
	}, &out); perr != nil {
		return Metrics{}, perr
	}

	pm := out.Data.PublicMetrics
	return Metrics{
		Engagement: map[string]int64{
			"likes":     pm.LikeCount,
			"retweets":  pm.RetweetCount,
			"replies":   pm.ReplyCount,
			"quotes":    pm.QuoteCount,
			"bookmarks": pm.BookmarkCount,
		},
		Reach: map[string]int64{
			"impressions": pm.ImpressionCount,
		},
	}, nil
}
