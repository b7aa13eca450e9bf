package storage

import (
	"math"
	"sort"
	"time"
)

// Stats summarizes workout history
type Stats struct {
	TotalSessions int `json:"totalSessions" yaml:"total_sessions"`
	TotalReps     int `json:"totalReps" yaml:"total_reps"`
	// Seconds
	TotalDuration          int `json:"totalDuration" yaml:"total_duration"`
	AverageRepsPerSession  int `json:"averageRepsPerSession" yaml:"average_reps_per_session"`
	AverageDurationSeconds int `json:"averageDuration" yaml:"average_duration"`
	// Longest run of consecutive calendar days with at least one workout
	BestStreak int `json:"bestStreak" yaml:"best_streak"`
	// Share of sessions counted by camera, percent
	CameraUsagePercent int `json:"cameraUsage" yaml:"camera_usage"`
}

// ComputeStats aggregates workouts. Calendar days are taken in loc (UTC when nil)
func ComputeStats(workouts []Workout, loc *time.Location) Stats {
	if loc == nil {
		loc = time.UTC
	}
	stats := Stats{TotalSessions: len(workouts)}
	if len(workouts) == 0 {
		return stats
	}

	cameraSessions := 0
	days := make(map[time.Time]struct{}, len(workouts))
	for _, w := range workouts {
		stats.TotalReps += w.RepCount
		stats.TotalDuration += w.DurationSeconds
		if w.UsedCamera {
			cameraSessions++
		}
		local := w.Timestamp.In(loc)
		days[time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)] = struct{}{}
	}

	n := float64(len(workouts))
	stats.AverageRepsPerSession = int(math.Round(float64(stats.TotalReps) / n))
	stats.AverageDurationSeconds = int(math.Round(float64(stats.TotalDuration) / n))
	stats.CameraUsagePercent = int(math.Round(float64(cameraSessions) / n * 100))
	stats.BestStreak = bestStreak(days)
	return stats
}

func bestStreak(days map[time.Time]struct{}) int {
	sorted := make([]time.Time, 0, len(days))
	for day := range days {
		sorted = append(sorted, day)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	best, current := 1, 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].AddDate(0, 0, 1).Equal(sorted[i]) {
			current++
			if current > best {
				best = current
			}
		} else {
			current = 1
		}
	}
	return best
}
