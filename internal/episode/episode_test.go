package episode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchSxxExxPattern(t *testing.T) {
	files := []File{
		{Name: "Show.S01E01.1080p.mkv", SizeBytes: 100},
		{Name: "Show.S01E02.1080p.mkv", SizeBytes: 200},
	}
	idx := Match(files, 1, 2)
	require.Equal(t, 1, idx)
}

func TestMatchNumericXPattern(t *testing.T) {
	files := []File{
		{Name: "Show.1x01.mkv", SizeBytes: 100},
		{Name: "Show.1x02.mkv", SizeBytes: 100},
	}
	idx := Match(files, 1, 2)
	require.Equal(t, 1, idx)
}

func TestMatchPrefersLargestOnTie(t *testing.T) {
	files := []File{
		{Name: "Show.S02E05.mkv", SizeBytes: 100},
		{Name: "Show.S02E05.sample.mkv", SizeBytes: 10},
	}
	idx := Match(files, 2, 5)
	require.Equal(t, 0, idx)
}

func TestMatchNoVideoFilesReturnsNotFound(t *testing.T) {
	files := []File{{Name: "readme.txt", SizeBytes: 10}}
	require.Equal(t, -1, Match(files, 1, 1))
}

func TestMatchSeasonPackFallsBackToSeasonOnlyPattern(t *testing.T) {
	var files []File
	for i := 1; i <= 8; i++ {
		files = append(files, File{Name: "Show.S03E0" + itoa(i) + ".mkv", SizeBytes: int64(i * 10)})
	}
	idx := Match(files, 3, 9) // episode 9 doesn't exist in this pack
	require.True(t, idx >= 0)
	require.True(t, IsSeasonPack(files))
}

func TestHasVideoExtension(t *testing.T) {
	require.True(t, HasVideoExtension("movie.mkv"))
	require.True(t, HasVideoExtension("MOVIE.MP4"))
	require.False(t, HasVideoExtension("movie.srt"))
}

func itoa(i int) string {
	return string(rune('0' + i))
}
