package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/djlord-it/easy-post/internal/content"
	"github.com/djlord-it/easy-post/internal/domain"
)

const maxCarouselItems = 10

// Instagram publishes image posts through the two-step container protocol:
// create a media container, then publish it.
type Instagram struct {
	baseURL string
	c       *client
}

func NewInstagram(baseURL string, opts ...Option) *Instagram {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	return &Instagram{baseURL: baseURL, c: newClient(opts)}
}

func (i *Instagram) Platform() domain.Platform { return domain.PlatformInstagram }

func (i *Instagram) Publish(ctx context.Context, req PublishRequest) Result {
	if err := requireToken(domain.PlatformInstagram, req.Connection); err != nil {
		return failed(err)
	}

	var containerID string
	var perr *Error
	switch content.MediaCategory(domain.PlatformInstagram, req.MediaRefs) {
	case domain.MediaImage:
		containerID, perr = i.createContainer(ctx, req.Connection, url.Values{
			"image_url": {req.MediaRefs[0]},
			"caption":   {req.Content},
		})
	case domain.MediaCarousel:
		containerID, perr = i.createCarousel(ctx, req)
	default:
		return Failure(domain.FailureUnsupportedOperation, "instagram: at least one image is required")
	}
	if perr != nil {
		return failed(perr)
	}

	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", req.Connection.AccessToken)

	var out struct {
		ID string `json:"id"`
	}
	if _, perr := i.c.do(ctx, request{
		method:      http.MethodPost,
		url:         endpoint(i.baseURL, req.Connection.AccountID, "media_publish"),
		contentType: "application/x-www-form-urlencoded",
		body:        []byte(form.Encode()),
	}, &out); perr != nil {
		return failed(perr)
	}
	if out.ID == "" {
		return Failure(domain.FailurePlatformRejected, "instagram: publish response has no media id")
	}
	return Success(out.ID)
}

func (i *Instagram) createCarousel(ctx context.Context, req PublishRequest) (string, *Error) {
	refs := req.MediaRefs
	if len(refs) > maxCarouselItems {
		refs = refs[:maxCarouselItems]
	}

	children := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, perr := i.createContainer(ctx, req.Connection, url.Values{
			"image_url":        {ref},
			"is_carousel_item": {"true"},
		})
		if perr != nil {
			return "", perr
		}
		children = append(children, id)
	}

	return i.createContainer(ctx, req.Connection, url.Values{
		"media_type": {"CAROUSEL"},
		"children":   {strings.Join(children, ",")},
		"caption":    {req.Content},
	})
}

func (i *Instagram) createContainer(ctx context.Context, conn domain.PlatformConnection, form url.Values) (string, *Error) {
	form.Set("access_token", conn.AccessToken)

	var out struct {
		ID string `json:"id"`
	}
	if _, perr := i.c.do(ctx, request{
		method:      http.MethodPost,
		url:         endpoint(i.baseURL, conn.AccountID, "media"),
		contentType: "application/x-www-form-urlencoded",
		body:        []byte(form.Encode()),
	}, &out); perr != nil {
		return "", perr
	}
	if out.ID == "" {
		return "", newError(domain.FailurePlatformRejected, 0, "instagram: container response has no id")
	}
	return out.ID, nil
}

func (i *Instagram) FetchMetrics(ctx context.Context, postID string, conn domain.PlatformConnection) (Metrics, error) {
	if err := requireToken(domain.PlatformInstagram, conn); err != nil {
		return Metrics{}, err
	}

	q := url.Values{}
	q.Set("metric", "likes,comments,saved,shares,reach,impressions")
	q.Set("access_token", conn.AccessToken)

	var insights graphInsights
	if _, perr := i.c.do(ctx, request{
		method: http.MethodGet,
		url:    endpoint(i.baseURL, postID, "insights") + "?" + q.Encode(),
	}, &insights); perr != nil {
		return Metrics{}, perr
	}

	return Metrics{
		Engagement: insights.values(map[string]string{
			"likes":    "likes",
			"comments": "comments",
			"saved":    "saved",
			"shares":   "shares",
		}),
		Reach: insights.values(map[string]string{
			"reach":       "reach",
			"impressions": "impressions",
		}),
	}, nil
}
