package profile

// Details holds platform-specific extras. Only the block for the record's
// platform is populated.
type Details struct {
	GitHub     *GitHubDetails     `json:"github,omitempty"`
	LeetCode   *LeetCodeDetails   `json:"leetcode,omitempty"`
	Codeforces *CodeforcesDetails `json:"codeforces,omitempty"`
	CodeChef   *CodeChefDetails   `json:"codechef,omitempty"`
}

// LanguageCount is a language and the number of repositories using it.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

// Repository is a summarized GitHub repository.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Repository struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Language    string `json:"language,omitempty"`
	Stars       int    `json:"stars"`
	Forks       int    `json:"forks"`
	Commits     int    `json:"commits"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// GitHubDetails holds derived GitHub aggregates.
type GitHubDetails struct {
	Name          string          `json:"name,omitempty"`
	Bio           string          `json:"bio,omitempty"`
	AvatarURL     string          `json:"avatarUrl,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	TopLanguages  []LanguageCount `json:"topLanguages"`
	FeaturedRepos []Repository    `json:"featuredRepos"`
}

// ContestStats is LeetCode contest performance; nil when the user never competed.
type ContestStats struct {
	Attended      int      `json:"attended"`
	Rating        int      `json:"rating"`
	GlobalRanking *int     `json:"globalRanking,omitempty"`
	TopPercentage *float64 `json:"topPercentage,omitempty"`
}

// Badge is a LeetCode badge.
type Badge struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
	Date string `json:"date,omitempty"`
}

// Submission is a recent LeetCode submission.
type Submission struct {
	Title     string `json:"title"`
	Status    string `json:"status"`
	Language  string `json:"language"`
	Timestamp string `json:"timestamp"`
}

// LeetCodeDetails holds LeetCode extras.
//
//nolint:govet // fieldalignment: intentional layout for readability
type LeetCodeDetails struct {
	Name              string        `json:"name,omitempty"`
	Country           string        `json:"country,omitempty"`
	AcceptanceRate    float64       `json:"acceptanceRate"`
	Contest           *ContestStats `json:"contest"`
	Badges            []Badge       `json:"badges"`
	RecentSubmissions []Submission  `json:"recentSubmissions"`
}

// RatingChange is one Codeforces contest result.
//
//nolint:govet // fieldalignment: intentional layout for readability
type RatingChange struct {
	ContestName string `json:"contestName"`
	Rank        int    `json:"rank"`
	OldRating   int    `json:"oldRating"`
	NewRating   int    `json:"newRating"`
	Delta       int    `json:"ratingChange"`
	Date        string `json:"date"`
}

// CodeforcesDetails holds Codeforces extras.
type CodeforcesDetails struct {
	Rank          string         `json:"rank,omitempty"`
	MaxRank       string         `json:"maxRank,omitempty"`
	Country       string         `json:"country,omitempty"`
	Organization  string         `json:"organization,omitempty"`
	RatingHistory []RatingChange `json:"ratingHistory"`
	Approximation bool           `json:"isApproximation"`
}

// CodeChefDetails holds CodeChef extras.
type CodeChefDetails struct {
	Username  *string `json:"username"`
	Country   *string `json:"country"`
	RankLabel string  `json:"rank"`
}
