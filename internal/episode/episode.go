// Package episode implements the filename-to-episode matching heuristic:
// an ordered list of case-insensitive patterns (S01E02, 1x02, bare E02 for
// single-season packs, concatenated 102) with season-pack fallbacks.
package episode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true,
}

// HasVideoExtension reports whether filename ends in a recognized video
// extension.
func HasVideoExtension(filename string) bool {
	lower := strings.ToLower(filename)
	for ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// patternSet builds the ordered, case-insensitive patterns for one
// (season, episode) pair, in match-priority order.
func patternSet(season, episode int) []*regexp.Regexp {
	s2 := fmt.Sprintf("%02d", season)
	e2 := fmt.Sprintf("%02d", episode)
	s := strconv.Itoa(season)

	patterns := []string{
		fmt.Sprintf(`(?i)s%se%s`, s2, e2),
		fmt.Sprintf(`(?i)s%se%s`, s, e2),
		fmt.Sprintf(`(?i)%sx%s`, s2, e2),
		fmt.Sprintf(`(?i)%sx%s`, s, e2),
		fmt.Sprintf(`(?i)e%s`, e2), // only used conditionally by caller (single-season pack)
		fmt.Sprintf(`(?i)episode\.?%s`, e2),
		fmt.Sprintf(`(?i)\.%s\.`, e2),
		fmt.Sprintf(`(?i)_%s\.`, e2),
	}
	if season < 10 {
		patterns = append(patterns, fmt.Sprintf(`(?i)%s%s`, s, e2))
	}

	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

var seasonOnlyCache sync.Map

func seasonOnlyPattern(season int) *regexp.Regexp {
	if re, ok := seasonOnlyCache.Load(season); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(fmt.Sprintf(`(?i)s%02d`, season))
	seasonOnlyCache.Store(season, re)
	return re
}

// File is the minimal shape episode-matching needs from a torrent's file
// listing.
type File struct {
	Name      string
	SizeBytes int64
}

// Match returns the index of the file matching (season, episode), or -1
// if none matches.
func Match(files []File, season, episode int) int {
	videoFiles := make([]int, 0, len(files))
	for i, f := range files {
		if HasVideoExtension(f.Name) {
			videoFiles = append(videoFiles, i)
		}
	}
	if len(videoFiles) == 0 {
		return -1
	}

	isSingleSeasonPack := len(videoFiles) < 6 // heuristic for step 2's "E{episode}" rule: only apply when this doesn't look like a mixed/season-pack torrent with many episodes from possibly multiple seasons.
	patterns := patternSet(season, episode)

	best := -1
	var bestSize int64 = -1
	for idx, p := range patterns {
		// The bare "E{episode}" pattern (index 4) only applies to apparent
		// single-season packs.
		if idx == 4 && !isSingleSeasonPack {
			continue
		}
		for _, fi := range videoFiles {
			if p.MatchString(files[fi].Name) {
				if files[fi].SizeBytes > bestSize {
					best = fi
					bestSize = files[fi].SizeBytes
				}
			}
		}
		if best != -1 {
			return best
		}
	}

	// Step 4: season-pack fallback (>= 6 video files).
	if len(videoFiles) >= 6 {
		seasonPattern := seasonOnlyPattern(season)
		best = -1
		bestSize = -1
		for _, fi := range videoFiles {
			if seasonPattern.MatchString(files[fi].Name) && files[fi].SizeBytes > bestSize {
				best = fi
				bestSize = files[fi].SizeBytes
			}
		}
		if best != -1 {
			return best
		}
		// No filename matched the season; largest video file overall.
		for _, fi := range videoFiles {
			if files[fi].SizeBytes > bestSize {
				best = fi
				bestSize = files[fi].SizeBytes
			}
		}
		return best
	}

	return -1
}

// IsSeasonPack reports whether the file listing looks like a season pack
// (>= 6 video files).
func IsSeasonPack(files []File) bool {
	count := 0
	for _, f := range files {
		if HasVideoExtension(f.Name) {
			count++
		}
	}
	return count >= 6
}
