package redirect

import "net/url"

// Hop is one leg of a redirect chain: the URL that was requested and the
// request headers that were actually sent for it. Authorization is carried
// here rather than assumed global, since Tracker strips it when a hop
// crosses origins.
type Hop struct {
	URL            url.URL
	StatusCode     int
	RequestHeaders map[string]string
}

// Action tells the caller what to do with the Hop Follow returned.
type Action string

const (
	// ActionFollow means next is a fresh request to make.
	ActionFollow Action = "follow"
	// ActionStop means current was not a redirect (2xx/4xx/5xx); the chain ends here.
	ActionStop Action = "stop"
)
