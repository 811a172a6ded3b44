package debrid

import (
	"github.com/beluchon/stream-fusion/internal/episode"
	"github.com/beluchon/stream-fusion/internal/model"
)

// SelectFile implements the shared file-selection policy: given a
// provider's file listing and the query, pick the file index to stream.
// Returns -1 if nothing qualifies (caller returns NoFileInTorrent).
func SelectFile(files []model.FullIndexEntry, q Query) int {
	if len(files) == 0 {
		return -1
	}

	// 1. Explicit file_index, if valid.
	if q.FileIndex != nil {
		for _, f := range files {
			if f.FileIndex == *q.FileIndex {
				return f.FileIndex
			}
		}
	}

	// 2. Series: episode-matching algorithm.
	if q.Type == model.SeriesEpisode && q.Season > 0 && q.Episode > 0 {
		epFiles := make([]episode.File, len(files))
		for i, f := range files {
			epFiles[i] = episode.File{Name: f.FileName, SizeBytes: f.Size}
		}
		if idx := episode.Match(epFiles, q.Season, q.Episode); idx >= 0 {
			return files[idx].FileIndex
		}
	}

	// 3. Largest file with a recognized video extension.
	bestIdx := -1
	var bestSize int64 = -1
	for _, f := range files {
		if episode.HasVideoExtension(f.FileName) && f.Size > bestSize {
			bestIdx = f.FileIndex
			bestSize = f.Size
		}
	}
	if bestIdx != -1 {
		return bestIdx
	}

	// 4. Largest file overall.
	bestIdx = -1
	bestSize = -1
	for _, f := range files {
		if f.Size > bestSize {
			bestIdx = f.FileIndex
			bestSize = f.Size
		}
	}
	return bestIdx
}
