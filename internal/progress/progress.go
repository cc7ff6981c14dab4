package progress

import (
	"math"
	"slices"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Badge is unlocked once the practice streak reaches Days.
type Badge struct {
	Name string
	Days int
}

// Badges are ordered by the streak they require.
var Badges = []Badge{
	{Name: "aruna", Days: 1},
	{Name: "agni", Days: 7},
	{Name: "gayatri", Days: 14},
	{Name: "arjuna", Days: 21},
	{Name: "nataraja", Days: 30},
	{Name: "aditya", Days: 60},
	{Name: "muralidhara", Days: 90},
	{Name: "suryanatha", Days: 365},
}

type HistoryEntry struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	Time     string  `json:"time"`
	Count    int     `json:"count"`
	Accuracy float64 `json:"accuracy"`
}

// Progress is the practice document. Dates, Counts and Accuracy are parallel,
// one element per practiced day.
type Progress struct {
	Dates    []string       `json:"dates"`
	Counts   []int          `json:"counts"`
	Accuracy []float64      `json:"accuracy"`
	Badges   []string       `json:"badges"`
	History  []HistoryEntry `json:"history"`
	Streak   int            `json:"streak"`
	LastDate *string        `json:"last_date"`
}

func New() *Progress {
	p := &Progress{}
	p.normalize()
	return p
}

// Parse decodes a progress document, defaulting any missing keys.
func Parse(data []byte) (*Progress, error) {
	p := &Progress{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	p.normalize()
	return p, nil
}

func (p *Progress) Marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

func (p *Progress) normalize() {
	if p.Dates == nil {
		p.Dates = []string{}
	}
	if p.Counts == nil {
		p.Counts = []int{}
	}
	if p.Accuracy == nil {
		p.Accuracy = []float64{}
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	if p.History == nil {
		p.History = []HistoryEntry{}
	}
	// a hand edited file may have mismatched parallel arrays
	for len(p.Counts) < len(p.Dates) {
		p.Counts = append(p.Counts, 0)
	}
	for len(p.Accuracy) < len(p.Dates) {
		p.Accuracy = append(p.Accuracy, 0)
	}
}

// TotalSessions is the sum of all per-day session counts.
func (p *Progress) TotalSessions() int {
	total := 0
	for _, c := range p.Counts {
		total += c
	}
	return total
}

// BestAccuracy returns the best per-day accuracy, false if nothing was recorded.
func (p *Progress) BestAccuracy() (float64, bool) {
	if len(p.Accuracy) == 0 {
		return 0, false
	}
	return slices.Max(p.Accuracy), true
}

// record merges one session into the document. now is interpreted in its
// own location, so the caller decides what "today" is.
func (p *Progress) record(id string, count int, accuracy float64, now time.Time) {
	today := now.Format(DateLayout)

	p.History = append(p.History, HistoryEntry{
		ID:       id,
		Date:     today,
		Time:     now.Format(TimeLayout),
		Count:    count,
		Accuracy: accuracy,
	})

	if i := slices.Index(p.Dates, today); i >= 0 {
		p.Counts[i] += count
		p.Accuracy[i] = math.Max(p.Accuracy[i], accuracy)
	} else {
		p.Dates = append(p.Dates, today)
		p.Counts = append(p.Counts, count)
		p.Accuracy = append(p.Accuracy, accuracy)
	}

	p.Streak = CalculateStreak(p.Dates)
	p.LastDate = &today
	p.Badges = UnlockBadges(p.Badges, p.Streak)
}

// CalculateStreak counts consecutive days ending at the latest practiced date.
// Unparsable dates are ignored.
func CalculateStreak(dates []string) int {
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, err := time.Parse(DateLayout, d)
		if err != nil {
			continue
		}
		days = append(days, t)
	}
	if len(days) == 0 {
		return 0
	}

	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })
	days = slices.Compact(days)

	streak := 1
	for i := len(days) - 1; i > 0; i-- {
		if days[i].Sub(days[i-1]) != 24*time.Hour {
			break
		}
		streak++
	}
	return streak
}

// UnlockBadges adds every badge earned by streak. Badges already held are
// never removed. The result is sorted.
func UnlockBadges(current []string, streak int) []string {
	badges := slices.Clone(current)
	for _, b := range Badges {
		if streak >= b.Days && !slices.Contains(badges, b.Name) {
			badges = append(badges, b.Name)
		}
	}
	slices.Sort(badges)
	return badges
}

// HistoryBetween returns history entries whose date falls in [from, to].
func (p *Progress) HistoryBetween(from, to string) []HistoryEntry {
	entries := []HistoryEntry{}
	for _, h := range p.History {
		if (from == "" || h.Date >= from) && (to == "" || h.Date <= to) {
			entries = append(entries, h)
		}
	}
	return entries
}
