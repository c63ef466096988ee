package content

import "github.com/djlord-it/easy-post/internal/domain"

// MediaCategory picks how image references are attached on platform.
func MediaCategory(platform domain.Platform, refs []string) domain.MediaCategory {
	if len(refs) == 0 {
		return domain.MediaNone
	}
	switch platform {
	case domain.PlatformInstagram:
		if len(refs) > 1 {
			return domain.MediaCarousel
		}
		return domain.MediaImage
	case domain.PlatformLinkedIn, domain.PlatformFacebook:
		return domain.MediaArticle
	case domain.PlatformTwitter:
		return domain.MediaImage
	default:
		return domain.MediaNone
	}
}
