package feeds

import "regexp"

// Root posts whose direct replies count as game-dev content regardless of
// keywords: long-running community intro threads.
var gameDevRootSkeets = map[string]struct{}{
	"at://did:plc:4jrld6fwpnwqehtce56qshzv/app.bsky.feed.post/3ju2fo5erfr2a": {},
	"at://did:plc:jye22xkea3jqsabskhfec347/app.bsky.feed.post/3jufcwqil7q2t": {},
}

var (
	gameDevOptOut = regexp.MustCompile(`(?i)#(?:nofeed|nogamedev|idontwantto(?:be|get)fired)`)
	gameDevOptIn  = regexp.MustCompile(`(?i)games?\s?(?:art|audio|design|dev|jam|lighting|music|narr?ative|writing)|indie\s?dev\s?hour|screenshot\s?saturday|trailer\s?tuesday|unity\s?1\s?week|wishlist\s?wednesday`)

	gameNewsOptOut = regexp.MustCompile(`(?i)#nogamenews`)
	gameNewsOptIn  = regexp.MustCompile(`(?i)#gamenews`)

	gameJobsOptOut = regexp.MustCompile(`(?i)#(?:nofeed|private)`)
	gameJobsOptIn  = regexp.MustCompile(`(?i)#games?(?:jobs?|careers?)`)
	gameJobsDev    = regexp.MustCompile(`(?i)games?dev`)
	gameJobsHiring = regexp.MustCompile(`(?i)#(?:(?:now)?hiring|lookingforwork|lfw)`)

	newGamePlusOptIn = regexp.MustCompile(`🆕(?:🎮|🕹️|👾)`)

	noFeedOptOut            = regexp.MustCompile(`(?i)#nofeed`)
	screenshotSaturdayOptIn = regexp.MustCompile(`(?i)screenshot\s?saturday`)
	wishlistWednesdayOptIn  = regexp.MustCompile(`(?i)wishlist\s?wednesday`)
)

// DefaultRegistry returns the feeds this generator serves.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Feed{
			RKey:        "game-dev",
			Name:        "Game Dev",
			Description: "Skeets about game development and design. Opt out with #NoFeed or #NoGameDev.",
			optOut:      gameDevOptOut,
			match: func(c Candidate) bool {
				if gameDevOptIn.MatchString(c.Text) {
					return true
				}
				_, ok := gameDevRootSkeets[c.ReplyParent]
				return ok
			},
		},
		&Feed{
			RKey:        "game-news",
			Name:        "Game News",
			Description: "Video game news and releases. Opt in with #GameNews, opt out with #NoFeed or #NoGameNews.",
			optOut:      gameNewsOptOut,
			match: func(c Candidate) bool {
				return gameNewsOptIn.MatchString(c.Text)
			},
		},
		&Feed{
			RKey:        "game-jobs",
			Name:        "Game Jobs & Careers",
			Description: "Hiring and Looking For Work posts from the games industry. Opt in with #GameJobs, #GameCareers, or #GameDev plus a hiring hashtag. Opt out with #NoFeed or #Private.",
			optOut:      gameJobsOptOut,
			match: func(c Candidate) bool {
				if gameJobsOptIn.MatchString(c.Text) {
					return true
				}
				return gameJobsDev.MatchString(c.Text) && gameJobsHiring.MatchString(c.Text)
			},
		},
		&Feed{
			RKey:        "new-game-plus",
			Name:        "New Game +",
			Description: "Video game release and pre-release announcements. Opt out with #NoFeed or #NoGameDev.",
			optOut:      gameDevOptOut,
			match: func(c Candidate) bool {
				return newGamePlusOptIn.MatchString(c.Text)
			},
		},
		&Feed{
			RKey:        "screenshot-saturday",
			Name:        "Screenshot Saturday",
			Description: "Every Saturday, game devs the world over post screenshots of their games!",
			optOut:      noFeedOptOut,
			match: func(c Candidate) bool {
				return screenshotSaturdayOptIn.MatchString(c.Text)
			},
		},
		&Feed{
			RKey:        "wishlist-wed",
			Name:        "Wishlist Wednesday",
			Description: "Every Wednesday, game devs the world over post links to their games' store pages!",
			optOut:      noFeedOptOut,
			match: func(c Candidate) bool {
				return wishlistWednesdayOptIn.MatchString(c.Text)
			},
		},
		&Feed{
			// Curated by hand; the firehose never adds to it.
			RKey:        "get-started",
			Name:        "Getting Started",
			Description: "Posts to help you get started with Bluesky. All posts are curated.",
		},
	)
}
