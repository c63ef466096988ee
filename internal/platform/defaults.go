package platform

import "github.com/djlord-it/easy-post/internal/domain"

// Endpoints overrides the default API base URLs. Empty fields keep defaults.
type Endpoints struct {
	Facebook      string
	Instagram     string
	Twitter       string
	TwitterUpload string
	LinkedIn      string
}

// NewDefaultRegistry registers every supported adapter plus the placeholders
// for recognised platforms that have none yet.
func NewDefaultRegistry(ep Endpoints, opts ...Option) *Registry {
	return NewRegistry(
		NewFacebook(ep.Facebook, opts...),
		NewInstagram(ep.Instagram, opts...),
		NewTwitter(ep.Twitter, ep.TwitterUpload, opts...),
		NewLinkedIn(ep.LinkedIn, opts...),
		NewUnsupported(domain.PlatformTikTok, "video upload is not implemented"),
		NewUnsupported(domain.PlatformYouTube, "video upload is not implemented"),
	)
}
