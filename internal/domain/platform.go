package domain

// Platform identifies a publishing target.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
)

// Platforms is the fixed enumeration accepted at the scheduling boundary.
var Platforms = []Platform{
	PlatformFacebook,
	PlatformInstagram,
	PlatformTwitter,
	PlatformLinkedIn,
	PlatformTikTok,
	PlatformYouTube,
}

// Valid reports whether p is part of the enumeration.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

func (p Platform) String() string { return string(p) }

// MediaCategory is the kind of media attached to a platform variant.
type MediaCategory string

const (
	MediaNone     MediaCategory = "none"
	MediaImage    MediaCategory = "image"
	MediaCarousel MediaCategory = "carousel"
	MediaArticle  MediaCategory = "article"
)
