// Package profile defines the normalized coding-platform metrics record shared by
// every platform client, the freshness layer and the stores.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform identifies an upstream coding platform.
type Platform string

// Supported platforms.
const (
	GitHub     Platform = "github"
	LeetCode   Platform = "leetcode"
	Codeforces Platform = "codeforces"
	CodeChef   Platform = "codechef"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{GitHub, LeetCode, Codeforces, CodeChef}

// ParsePlatform converts a user-supplied name into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
}

// Counter names shared across platforms.
const (
	CounterRating               = "rating"
	CounterMaxRating            = "maxRating"
	CounterProblemsSolved       = "problemsSolved"
	CounterContestsParticipated = "contestsParticipated"
	CounterTotalSolved          = "totalSolved"
	CounterEasySolved           = "easySolved"
	CounterMediumSolved         = "mediumSolved"
	CounterHardSolved           = "hardSolved"
	CounterTotalSubmissions     = "totalSubmissions"
	CounterAcceptedSubmissions  = "acceptedSubmissions"
	CounterAvgProblemRating     = "avgProblemRating"
	CounterRanking              = "ranking"
	CounterReputation           = "reputation"
	CounterStars                = "stars"
	CounterTotalStars           = "totalStars"
	CounterTotalForks           = "totalForks"
	CounterTotalCommits         = "totalCommits"
	CounterPublicRepos          = "publicRepos"
	CounterFollowers            = "followers"
	CounterFollowing            = "following"
	CounterContributionScore    = "contributionScore"
)

// primaryCounters names the field a record cannot be reused without.
var primaryCounters = map[Platform]string{
	GitHub:     CounterPublicRepos,
	LeetCode:   CounterTotalSolved,
	Codeforces: CounterRating,
	CodeChef:   CounterRating,
}

// PrimaryCounter returns the counter whose absence disqualifies a stored
// record from being served from cache.
func PrimaryCounter(p Platform) string {
	return primaryCounters[p]
}

// Metrics is the normalized record for one (user, platform) pair.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Metrics struct {
	Platform   Platform `json:"platform"`
	Handle     string   `json:"handle"`
	ProfileURL string   `json:"profileUrl"`

	// Rating is the platform contest rating; nil when the platform has none
	// or it could not be determined.
	Rating *int `json:"ratingOrScore"`

	// Counters maps a counter name to its value; a nil value means the
	// counter could not be determined.
	Counters map[string]*int64 `json:"countersByCategory"`

	FetchedAt  time.Time `json:"fetchedAt"`
	Partial    bool      `json:"partial"`
	SourceNote string    `json:"sourceNote,omitempty"`

	// Details carries platform-specific structured extras.
	Details *Details `json:"details,omitempty"`
}

// New returns an empty record for the given platform and handle.
func New(p Platform, handle, profileURL string, fetchedAt time.Time) *Metrics {
	return &Metrics{
		Platform:   p,
		Handle:     handle,
		ProfileURL: profileURL,
		Counters:   make(map[string]*int64),
		FetchedAt:  fetchedAt,
	}
}

// SetCounter stores a known value for name.
func (m *Metrics) SetCounter(name string, v int64) {
	m.Counters[name] = &v
}

// SetUnknown records that name could not be determined.
func (m *Metrics) SetUnknown(name string) {
	m.Counters[name] = nil
}

// Counter returns the value of name and whether it is known.
func (m *Metrics) Counter(name string) (int64, bool) {
	v, ok := m.Counters[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Note appends a caveat to SourceNote.
func (m *Metrics) Note(format string, args ...any) {
	note := fmt.Sprintf(format, args...)
	if m.SourceNote == "" {
		m.SourceNote = note
		return
	}
	m.SourceNote += "; " + note
}

// MarkPartial flags the record as partial with an explanatory note.
func (m *Metrics) MarkPartial(format string, args ...any) {
	m.Partial = true
	m.Note(format, args...)
}

// HasUnknown reports whether any counter is undetermined.
func (m *Metrics) HasUnknown() bool {
	for _, v := range m.Counters {
		if v == nil {
			return true
		}
	}
	return false
}

// Reusable reports whether the record's primary counter was extracted.
func (m *Metrics) Reusable() bool {
	name := PrimaryCounter(m.Platform)
	if name == "" {
		return true
	}
	_, ok := m.Counter(name)
	return ok
}

// Validate checks the record invariants.
func (m *Metrics) Validate() error {
	if m.Platform == "" {
		return errors.New("metrics: missing platform")
	}
	if m.FetchedAt.IsZero() {
		return errors.New("metrics: missing fetchedAt")
	}
	for name, v := range m.Counters {
		if v != nil && *v < 0 {
			return fmt.Errorf("metrics: negative counter %s=%d", name, *v)
		}
	}
	if m.Rating != nil && *m.Rating < 0 {
		return fmt.Errorf("metrics: negative rating %d", *m.Rating)
	}
	if m.Partial && !m.HasUnknown() && m.SourceNote == "" {
		return errors.New("metrics: partial record without unknown counter or source note")
	}
	return nil
}

// SaneCounter returns v when 0 <= v <= upper, otherwise nil.
func SaneCounter(v, upper int64) *int64 {
	if v < 0 || v > upper {
		return nil
	}
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }
