package platform

import (
	"context"
	"net/http"
	"strings"

	"github.com/djlord-it/easy-post/internal/content"
	"github.com/djlord-it/easy-post/internal/domain"
)

const DefaultLinkedInURL = "https://api.linkedin.com"

// LinkedIn publishes through the UGC posts API, which wraps the text in a
// ShareContent envelope.
type LinkedIn struct {
	baseURL string
	c       *client
}

func NewLinkedIn(baseURL string, opts ...Option) *LinkedIn {
	if baseURL == "" {
		baseURL = DefaultLinkedInURL
	}
	return &LinkedIn{baseURL: baseURL, c: newClient(opts)}
}

func (l *LinkedIn) Platform() domain.Platform { return domain.PlatformLinkedIn }

type ugcPost struct {
	Author          string             `json:"author"`
	LifecycleState  string             `json:"lifecycleState"`
	SpecificContent ugcSpecificContent `json:"specificContent"`
	Visibility      map[string]string  `json:"visibility"`
}

type ugcSpecificContent struct {
	ShareContent shareContent `json:"com.linkedin.ugc.ShareContent"`
}

type shareContent struct {
	ShareCommentary    shareText    `json:"shareCommentary"`
	ShareMediaCategory string       `json:"shareMediaCategory"`
	Media              []shareMedia `json:"media,omitempty"`
}

type shareText struct {
	Text string `json:"text"`
}

type shareMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

func (l *LinkedIn) Publish(ctx context.Context, req PublishRequest) Result {
	if err := requireToken(domain.PlatformLinkedIn, req.Connection); err != nil {
		return failed(err)
	}

	share := shareContent{
		ShareCommentary:    shareText{Text: req.Content},
		ShareMediaCategory: "NONE",
	}
	if content.MediaCategory(domain.PlatformLinkedIn, req.MediaRefs) == domain.MediaArticle {
		share.ShareMediaCategory = "ARTICLE"
		share.Media = []shareMedia{{Status: "READY", OriginalURL: req.MediaRefs[0]}}
	}

	payload, perr := jsonBody(ugcPost{
		Author:          authorURN(req.Connection.AccountID),
		LifecycleState:  "PUBLISHED",
		SpecificContent: ugcSpecificContent{ShareContent: share},
		Visibility:      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	})
	if perr != nil {
		return failed(perr)
	}

	var out struct {
		ID string `json:"id"`
	}
	header, perr := l.c.do(ctx, request{
		method:      http.MethodPost,
		url:         endpoint(l.baseURL, "v2", "ugcPosts"),
		token:       req.Connection.AccessToken,
		contentType: "application/json",
		header:      map[string]string{"X-Restli-Protocol-Version": "2.0.0"},
		body:        payload,
	}, &out)
	if perr != nil {
		return failed(perr)
	}

	id := out.ID
	if id == "" {
		id = header.Get("X-RestLi-Id")
	}
	if id == "" {
		return Failure(domain.FailurePlatformRejected, "linkedin: response has no post id")
	}
	return Success(id)
}

func authorURN(accountID string) string {
	if strings.HasPrefix(accountID, "urn:") {
		return accountID
	}
	return "urn:li:person:" + accountID
}
