package platform

import (
	"context"
	"net/http"
	"net/url"

	"github.com/djlord-it/easy-post/internal/content"
	"github.com/djlord-it/easy-post/internal/domain"
)

const DefaultGraphURL = "https://graph.facebook.com/v19.0"

// Facebook publishes text posts, with an optional link, to a page feed.
type Facebook struct {
	baseURL string
	c       *client
}

func NewFacebook(baseURL string, opts ...Option) *Facebook {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	return &Facebook{baseURL: baseURL, c: newClient(opts)}
}

func (f *Facebook) Platform() domain.Platform { return domain.PlatformFacebook }

func (f *Facebook) Publish(ctx context.Context, req PublishRequest) Result {
	if err := requireToken(domain.PlatformFacebook, req.Connection); err != nil {
		return failed(err)
	}

	form := url.Values{}
	form.Set("message", req.Content)
	form.Set("access_token", req.Connection.AccessToken)
	if content.MediaCategory(domain.PlatformFacebook, req.MediaRefs) == domain.MediaArticle {
		form.Set("link", req.MediaRefs[0])
	}

	var out struct {
		ID string `json:"id"`
	}
	_, perr := f.c.do(ctx, request{
		method:      http.MethodPost,
		url:         endpoint(f.baseURL, req.Connection.AccountID, "feed"),
		contentType: "application/x-www-form-urlencoded",
		body:        []byte(form.Encode()),
	}, &out)
	if perr != nil {
		return failed(perr)
	}
	if out.ID == "" {
		return Failure(domain.FailurePlatformRejected, "facebook: response has no post id")
	}
	return Success(out.ID)
}

// FetchMetrics reads reactions, comments and shares plus impression insights.
func (f *Facebook) FetchMetrics(ctx context.Context, postID string, conn domain.PlatformConnection) (Metrics, error) {
	if err := requireToken(domain.PlatformFacebook, conn); err != nil {
		return Metrics{}, err
	}

	q := url.Values{}
	q.Set("fields", "shares,reactions.summary(total_count).limit(0),comments.summary(total_count).limit(0)")
	q.Set("access_token", conn.AccessToken)

	var post struct {
		Shares struct {
			Count int64 `json:"count"`
		} `json:"shares"`
		Reactions struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"reactions"`
		Comments struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"comments"`
	}
	if _, perr := f.c.do(ctx, request{
		method: http.MethodGet,
		url:    endpoint(f.baseURL, postID) + "?" + q.Encode(),
	}, &post); perr != nil {
		return Metrics{}, perr
	}

	iq := url.Values{}
	iq.Set("metric", "post_impressions,post_impressions_unique")
	iq.Set("access_token", conn.AccessToken)

	var insights graphInsights
	if _, perr := f.c.do(ctx, request{
		method: http.MethodGet,
		url:    endpoint(f.baseURL, postID, "insights") + "?" + iq.Encode(),
	}, &insights); perr != nil {
		return Metrics{}, perr
	}

	return Metrics{
		Engagement: map[string]int64{
			"reactions": post.Reactions.Summary.TotalCount,
			"comments":  post.Comments.Summary.TotalCount,
			"shares":    post.Shares.Count,
		},
		Reach: insights.values(map[string]string{
			"post_impressions":        "impressions",
			"post_impressions_unique": "reach",
		}),
	}, nil
}

// graphInsights is the insights envelope shared by Facebook and Instagram.
type graphInsights struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

// values returns the latest value of each metric in names, keyed by the
// mapped name.
func (g graphInsights) values(names map[string]string) map[string]int64 {
	out := make(map[string]int64)
	for _, d := range g.Data {
		key, ok := names[d.Name]
		if !ok || len(d.Values) == 0 {
			continue
		}
		out[key] = d.Values[len(d.Values)-1].Value
	}
	return out
}
