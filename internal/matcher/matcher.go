// Package matcher implements Matcher: search lifecycle, candidate scoring
// and atomic pair creation. Structurally grounded in chatgogo's
// MatcherService{Hub, Storage, Queue} (other_examples) for the
// queue-scan-then-pair shape, with scoring adapted from winkr-backend's
// MatchingAlgorithmService (other_examples).
package matcher

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/balzhinimaev/anomchat/internal/apperr"
	"github.com/balzhinimaev/anomchat/internal/breaker"
	"github.com/balzhinimaev/anomchat/internal/directory"
	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/geo"
	"github.com/balzhinimaev/anomchat/internal/stats"
	"github.com/balzhinimaev/anomchat/internal/store"
)

// Notifier is the subset of ConnectionHub the matcher needs to push
// search:matched/search:expired events to users.
type Notifier interface {
	SendToUser(userID string, kind events.Kind, payload any)
}

// Criteria is the validated input to StartSearch, mirroring spec.md §6's
// search:start payload.
type Criteria struct {
	Gender              string
	Age                 int
	Rating              float64
	DesiredGender       []string
	DesiredAgeMin       int
	DesiredAgeMax       int
	MinAcceptableRating float64
	UseGeolocation      bool
	Location            *geo.Point
	MaxDistanceKm       int
}

type Result struct {
	Status     store.SearchStatus
	MatchedWith *MatchedWith
}

type MatchedWith struct {
	UserID     string
	TelegramID int64
	ChatID     string
}

type Matcher struct {
	store     *store.Store
	directory directory.Directory
	notifier  Notifier
	stats     *stats.Broadcaster
	breaker   *breaker.Breaker
	log       *slog.Logger

	searchTTL time.Duration
}

func New(st *store.Store, dir directory.Directory, notifier Notifier, broadcaster *stats.Broadcaster, br *breaker.Breaker, searchTTL time.Duration, logger *slog.Logger) *Matcher {
	return &Matcher{
		store:     st,
		directory: dir,
		notifier:  notifier,
		stats:     broadcaster,
		breaker:   br,
		searchTTL: searchTTL,
		log:       logger,
	}
}

// validate enforces the SearchRecord invariants from spec.md §3.
func validate(userID string, c Criteria) error {
	if c.Gender != "male" && c.Gender != "female" {
		return apperr.Validation("gender must be male or female")
	}
	if c.Age < 18 || c.Age > 100 {
		return apperr.Validation("age must be between 18 and 100")
	}
	if len(c.DesiredGender) == 0 {
		return apperr.Validation("desiredGender must be non-empty")
	}
	for _, g := range c.DesiredGender {
		if g != "male" && g != "female" && g != "any" {
			return apperr.Validation("desiredGender entries must be male, female or any")
		}
	}
	if c.DesiredAgeMin < 18 || c.DesiredAgeMax > 100 || c.DesiredAgeMin > c.DesiredAgeMax {
		return apperr.Validation("desiredAgeMin/desiredAgeMax out of range")
	}
	if c.UseGeolocation {
		if c.Location == nil {
			return apperr.Validation("location is required when useGeolocation is set")
		}
		if c.MaxDistanceKm < 1 || c.MaxDistanceKm > 100 {
			return apperr.Validation("maxDistanceKm must be between 1 and 100")
		}
	}
	return nil
}

// StartSearch implements §4.1's startSearch procedure.
func (m *Matcher) StartSearch(userID string, c Criteria) (*Result, error) {
	if !m.breaker.Allow() {
		return nil, apperr.TransientStore("matching is temporarily unavailable", nil)
	}

	result, err := m.startSearch(userID, c)
	if err != nil {
		if apperr.Is(err, apperr.KindTransientStore) || apperr.Is(err, apperr.KindInternal) {
			m.breaker.RecordFailure()
		}
		return nil, err
	}
	m.breaker.RecordSuccess()
	return result, nil
}

func (m *Matcher) startSearch(userID string, c Criteria) (*Result, error) {
	if err := validate(userID, c); err != nil {
		return nil, err
	}

	user, err := m.directory.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperr.Precondition("user is not active")
	}

	maxDistance := c.MaxDistanceKm
	if c.UseGeolocation && maxDistance == 0 {
		maxDistance = 10
	}

	rec := &store.SearchRecord{
		ID:                  uuid.New().String(),
		UserID:              userID,
		TelegramID:          user.TelegramID,
		Gender:              c.Gender,
		Age:                 c.Age,
		Rating:              c.Rating,
		DesiredGender:       c.DesiredGender,
		DesiredAgeMin:       c.DesiredAgeMin,
		DesiredAgeMax:       c.DesiredAgeMax,
		MinAcceptableRating: c.MinAcceptableRating,
		UseGeolocation:      c.UseGeolocation,
		MaxDistanceKm:       &maxDistance,
	}
	if c.Location != nil {
		rec.Longitude = &c.Location.Lng
		rec.Latitude = &c.Location.Lat
	}

	if err := m.store.CreateSearch(rec); err != nil {
		return nil, err
	}
	m.stats.Apply(stats.ActionStart, rec.Gender)

	match, err := m.tryMatch(rec)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return &Result{Status: store.SearchStatusSearching}, nil
	}
	return &Result{Status: store.SearchStatusMatched, MatchedWith: match}, nil
}

func (m *Matcher) tryMatch(rec *store.SearchRecord) (*MatchedWith, error) {
	desired := rec.DesiredSet()
	genders := make([]string, 0, len(desired))
	for g := range desired {
		genders = append(genders, g)
	}

	candidates, err := m.store.FindCandidates(rec.UserID, genders)
	if err != nil {
		return nil, err
	}

	best := selectBest(rec, candidates)
	if best == nil {
		return nil, nil
	}

	chat, err := m.store.CreateMatchAtomic(rec, best)
	if err != nil {
		if apperr.Is(err, apperr.KindPrecondition) {
			// Lost the race to a concurrent match; remain searching and
			// let the caller's later retry (or a subsequent candidate
			// scan) find someone else.
			return nil, nil
		}
		return nil, err
	}

	m.stats.Apply(stats.ActionMatch, rec.Gender)

	m.notifier.SendToUser(rec.UserID, events.KindSearchMatched, events.SearchMatchedPayload{
		MatchedUser: events.MatchedUser{
			TelegramID: best.TelegramID,
			Gender:     best.Gender,
			Age:        best.Age,
			ChatID:     chat.ID,
		},
	})
	m.notifier.SendToUser(best.UserID, events.KindSearchMatched, events.SearchMatchedPayload{
		MatchedUser: events.MatchedUser{
			TelegramID: rec.TelegramID,
			Gender:     rec.Gender,
			Age:        rec.Age,
			ChatID:     chat.ID,
		},
	})

	return &MatchedWith{UserID: best.UserID, TelegramID: best.TelegramID, ChatID: chat.ID}, nil
}

// candidateEligible implements the §4.1.1 predicate.
func candidateEligible(s, p *store.SearchRecord) bool {
	if p.Status != store.SearchStatusSearching || p.UserID == s.UserID {
		return false
	}
	if !s.DesiredSet()[p.Gender] {
		return false
	}
	pDesired := p.DesiredSet()
	if !pDesired[s.Gender] {
		return false
	}
	if p.Age < s.DesiredAgeMin || p.Age > s.DesiredAgeMax {
		return false
	}
	if s.Age < p.DesiredAgeMin || s.Age > p.DesiredAgeMax {
		return false
	}
	if s.MinAcceptableRating > -1 && p.Rating < s.MinAcceptableRating {
		return false
	}
	if s.UseGeolocation {
		if !p.UseGeolocation {
			return false
		}
		dist := distanceKm(s, p)
		maxDist := 10.0
		if s.MaxDistanceKm != nil {
			maxDist = float64(*s.MaxDistanceKm)
		}
		if dist > maxDist {
			return false
		}
	}
	return true
}

func distanceKm(a, b *store.SearchRecord) float64 {
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return math.MaxFloat64
	}
	meters := geo.HaversineMeters(
		geo.Point{Lat: *a.Latitude, Lng: *a.Longitude},
		geo.Point{Lat: *b.Latitude, Lng: *b.Longitude},
	)
	return meters / 1000
}

// score implements the §4.1.2 weighted total.
func score(s, p *store.SearchRecord) float64 {
	ratingScore := math.Max(0, 40-2*math.Abs(s.Rating-p.Rating))
	ageScore := math.Max(0, 30-2*math.Abs(float64(s.Age-p.Age)))

	geoScore := 0.0
	if s.UseGeolocation && p.UseGeolocation {
		geoScore = math.Max(0, 30-distanceKm(s, p))
	}

	return ratingScore + ageScore + geoScore
}

// selectBest applies candidateEligible + score + createdAt tie-break.
func selectBest(s *store.SearchRecord, candidates []*store.SearchRecord) *store.SearchRecord {
	var eligible []*store.SearchRecord
	for _, p := range candidates {
		if candidateEligible(s, p) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := score(s, eligible[i]), score(s, eligible[j])
		if si != sj {
			return si > sj
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	return eligible[0]
}

// CancelSearch implements §4.1's cancelSearch: idempotent and guarded by the
// same breaker as StartSearch. A stats cancel delta is applied only when a
// searching record was actually cancelled; when the user has no searching
// record, or it was already matched, no stats delta is applied.
func (m *Matcher) CancelSearch(userID string) error {
	if !m.breaker.Allow() {
		return apperr.TransientStore("matching is temporarily unavailable", nil)
	}
	rec, err := m.store.CancelSearch(userID)
	if err != nil {
		if apperr.Is(err, apperr.KindTransientStore) || apperr.Is(err, apperr.KindInternal) {
			m.breaker.RecordFailure()
		}
		return err
	}
	m.breaker.RecordSuccess()
	if rec == nil {
		return nil
	}
	if rec.Status == store.SearchStatusCancelled {
		m.stats.Apply(stats.ActionCancel, rec.Gender)
	}
	return nil
}

// ExpireOldSearches implements the JanitorLoop search-expiry sweep: every
// searching record older than the configured TTL transitions to expired and
// its owner (if connected) receives search:expired.
func (m *Matcher) ExpireOldSearches() error {
	userIDs, err := m.store.ExpireOldSearches(m.searchTTL)
	if err != nil {
		return err
	}
	for _, userID := range userIDs {
		m.notifier.SendToUser(userID, events.KindSearchExpired, struct{}{})
	}
	return nil
}
