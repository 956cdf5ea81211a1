package store

import (
	"time"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

// ComputeStatsSnapshot performs the full aggregation StatsBroadcaster falls
// back to once its cache goes stale: searching counts by gender, online
// counts by gender (lastActive within the last 30s), and average search
// duration plus match volume over the trailing 24h.
func (s *Store) ComputeStatsSnapshot() (*StatsSnapshot, error) {
	snap := &StatsSnapshot{CachedAt: time.Now()}

	err := s.DB.QueryRow(
		`SELECT
			COUNT(*) FILTER (WHERE status = 'searching'),
			COUNT(*) FILTER (WHERE status = 'searching' AND gender = 'male'),
			COUNT(*) FILTER (WHERE status = 'searching' AND gender = 'female')
		 FROM searches`,
	).Scan(&snap.SearchingTotal, &snap.SearchingMale, &snap.SearchingFemale)
	if err != nil {
		return nil, apperr.TransientStore("could not compute searching counts", err)
	}

	err = s.DB.QueryRow(
		`SELECT
			COUNT(*) FILTER (WHERE last_active >= now() - interval '30 seconds'),
			COUNT(*) FILTER (WHERE last_active >= now() - interval '30 seconds' AND gender = 'male'),
			COUNT(*) FILTER (WHERE last_active >= now() - interval '30 seconds' AND gender = 'female')
		 FROM users`,
	).Scan(&snap.OnlineTotal, &snap.OnlineMale, &snap.OnlineFemale)
	if err != nil {
		return nil, apperr.TransientStore("could not compute online counts", err)
	}

	err = s.DB.QueryRow(
		`SELECT
			COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at))) FILTER (WHERE gender = 'male'), 0),
			COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at))) FILTER (WHERE gender = 'female'), 0),
			COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at))), 0),
			COUNT(*) FILTER (WHERE updated_at >= now() - interval '24 hours')
		 FROM searches WHERE status = 'matched'`,
	).Scan(&snap.AvgSearchTimeMale, &snap.AvgSearchTimeFemale, &snap.AvgSearchTimeTotal, &snap.Matches24h)
	if err != nil {
		return nil, apperr.TransientStore("could not compute match duration stats", err)
	}

	return snap, nil
}
