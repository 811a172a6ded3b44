// Package titleparse derives ParsedMetadata from a raw release title.
// Parsing is a pure regex scan over the title string: deterministic, no
// I/O, cheap enough to run inline while inserting results.
package titleparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/beluchon/stream-fusion/internal/model"
)

var (
	resolutionRe = regexp.MustCompile(`(?i)\b(\d{3,4})[pi]\b`)
	uhdRe        = regexp.MustCompile(`(?i)\b(4k|uhd|2160p)\b`)

	qualityPatterns = []struct {
		re        *regexp.Regexp
		canonical string
	}{
		{regexp.MustCompile(`(?i)\bBlu-?ray(?:[\s.].*)?\bRemux\b`), "brremux"},
		{regexp.MustCompile(`(?i)\b(?:DL|WEB|BD|BR)REMUX\b`), "remux"},
		{regexp.MustCompile(`(?i)\bBlu-?ray\b`), "bluray"},
		{regexp.MustCompile(`(?i)\bWEB-?DL\b`), "webdl"},
		{regexp.MustCompile(`(?i)\bWEB-?Rip\b`), "webrip"},
		{regexp.MustCompile(`(?i)\bBRRip\b`), "brrip"},
		{regexp.MustCompile(`(?i)\bBDRip\b`), "bdrip"},
		{regexp.MustCompile(`(?i)\bDVDRip\b`), "dvdrip"},
		{regexp.MustCompile(`(?i)\bDVDscr\b`), "dvdscr"},
		{regexp.MustCompile(`(?i)\bDVD(?:R[0-9])?\b`), "dvd"},
		{regexp.MustCompile(`(?i)\bHD-?Rip\b`), "hdrip"},
		{regexp.MustCompile(`(?i)\b(?:HD-?)?TVRip\b`), "tvrip"},
		{regexp.MustCompile(`(?i)\bHDTV\b`), "hdtv"},
		{regexp.MustCompile(`(?i)\b(?:HD-?)?T(?:ELE)?S(?:YNC)?\b`), "telesync"},
		{regexp.MustCompile(`(?i)\bTS-?Rip\b`), "telesync"},
		{regexp.MustCompile(`(?i)\b(?:HD-?)?CAM(?:rip)?\b`), "cam"},
	}

	codecPatterns = []struct {
		re        *regexp.Regexp
		canonical string
	}{
		{regexp.MustCompile(`(?i)\bx[-. ]?264\b`), "x264"},
		{regexp.MustCompile(`(?i)\bh[-. ]?264\b|\bavc\b`), "h264"},
		{regexp.MustCompile(`(?i)\bx[-. ]?265\b`), "x265"},
		{regexp.MustCompile(`(?i)\bh[-. ]?265\b|\bhevc\b`), "h265"},
		{regexp.MustCompile(`(?i)\bav1\b`), "av1"},
		{regexp.MustCompile(`(?i)\bxvid\b`), "xvid"},
		{regexp.MustCompile(`(?i)\bdivx\b`), "divx"},
		{regexp.MustCompile(`(?i)\bmpeg-?2\b`), "mpeg2"},
	}

	audioPatterns = []struct {
		re        *regexp.Regexp
		canonical string
	}{
		{regexp.MustCompile(`(?i)\bAtmos\b`), "atmos"},
		{regexp.MustCompile(`(?i)\bTrueHD\b`), "truehd"},
		{regexp.MustCompile(`(?i)\bDTS-?HD\b`), "dts-hd"},
		{regexp.MustCompile(`(?i)\bDTS\b`), "dts"},
		{regexp.MustCompile(`(?i)\bDD\+?[ .]?7[. ]1\b|\bEAC-?3\b`), "eac3"},
		{regexp.MustCompile(`(?i)\bDD[ .]?5[. ]?1\b`), "dd5.1"},
		{regexp.MustCompile(`(?i)\bAC-?3\b`), "ac3"},
		{regexp.MustCompile(`(?i)\bAAC(?:[. ]?2[. ]0)?\b`), "aac"},
		{regexp.MustCompile(`(?i)\bFLAC\b`), "flac"},
		{regexp.MustCompile(`(?i)\bMP3\b`), "mp3"},
	}

	languagePatterns = []struct {
		re        *regexp.Regexp
		canonical string
	}{
		{regexp.MustCompile(`(?i)\bMULTI\b`), "multi"},
		{regexp.MustCompile(`(?i)\bVFF\b`), "vff"},
		{regexp.MustCompile(`(?i)\bVOF\b`), "vof"},
		{regexp.MustCompile(`(?i)\bVFI\b`), "vfi"},
		{regexp.MustCompile(`(?i)\bVF2\b`), "vf2"},
		{regexp.MustCompile(`(?i)\bVFQ\b`), "vfq"},
		{regexp.MustCompile(`(?i)\bVOSTFR\b`), "vostfr"},
		{regexp.MustCompile(`(?i)\bVQ\b`), "vq"},
		{regexp.MustCompile(`(?i)\bFR(?:ENCH)?\b`), "fr"},
		{regexp.MustCompile(`(?i)\bENG(?:LISH)?\b`), "en"},
		{regexp.MustCompile(`(?i)\bITA(?:LIAN)?\b`), "it"},
		{regexp.MustCompile(`(?i)\bGERMAN\b`), "de"},
		{regexp.MustCompile(`(?i)\bSPANISH\b|\bCASTELLANO\b`), "es"},
	}

	seasonEpisodeRe = regexp.MustCompile(`(?i)\bS(\d{1,2})[-. ]?E(\d{1,3})\b`)
	seasonRangeRe   = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*(?:to|-)\s*S?(\d{1,2})\b`)
	seasonWordRe    = regexp.MustCompile(`(?i)\bseason\s+(\d{1,2})(?:[\s-]+(\d{1,2}))?\b`)
	seasonBareRe    = regexp.MustCompile(`(?i)\bS(\d{2})\b`)
	crossRe         = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)

	// The release group is the token after the last dash, e.g. "-SPARKS".
	// A trailing container extension is stripped first so "-GRP.mkv" still
	// resolves to "GRP".
	groupRe     = regexp.MustCompile(`-([A-Za-z0-9]+)$`)
	extensionRe = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|mov|wmv|flv|webm)$`)
)

// Parse extracts metadata from one raw release title.
func Parse(rawTitle string) model.ParsedMetadata {
	meta := model.ParsedMetadata{}
	if rawTitle == "" {
		return meta
	}

	meta.Resolution = parseResolution(rawTitle)

	for _, p := range qualityPatterns {
		if p.re.MatchString(rawTitle) {
			meta.Quality = p.canonical
			break
		}
	}
	for _, p := range codecPatterns {
		if p.re.MatchString(rawTitle) {
			meta.Codec = append(meta.Codec, p.canonical)
		}
	}
	for _, p := range audioPatterns {
		if p.re.MatchString(rawTitle) {
			meta.Audio = append(meta.Audio, p.canonical)
		}
	}
	for _, p := range languagePatterns {
		if p.re.MatchString(rawTitle) {
			meta.Languages = append(meta.Languages, p.canonical)
		}
	}

	meta.Seasons, meta.Episodes = parseSeasonsEpisodes(rawTitle)
	meta.Group = parseGroup(rawTitle)
	return meta
}

func parseResolution(title string) string {
	if uhdRe.MatchString(title) {
		return "2160p"
	}
	m := resolutionRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	// Interlaced tags collapse onto the progressive bucket: 1080i
	// releases compete with 1080p ones for ranking purposes.
	return m[1] + "p"
}

func parseSeasonsEpisodes(title string) (seasons, episodes []int) {
	if m := seasonEpisodeRe.FindStringSubmatch(title); m != nil {
		s, _ := strconv.Atoi(m[1])
		e, _ := strconv.Atoi(m[2])
		return []int{s}, []int{e}
	}
	if m := crossRe.FindStringSubmatch(title); m != nil {
		s, _ := strconv.Atoi(m[1])
		e, _ := strconv.Atoi(m[2])
		return []int{s}, []int{e}
	}
	if m := seasonRangeRe.FindStringSubmatch(title); m != nil {
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		return seasonRange(from, to), nil
	}
	if m := seasonWordRe.FindStringSubmatch(title); m != nil {
		from, _ := strconv.Atoi(m[1])
		if m[2] != "" {
			to, _ := strconv.Atoi(m[2])
			return seasonRange(from, to), nil
		}
		return []int{from}, nil
	}
	if m := seasonBareRe.FindStringSubmatch(title); m != nil {
		s, _ := strconv.Atoi(m[1])
		return []int{s}, nil
	}
	return nil, nil
}

func seasonRange(from, to int) []int {
	if to < from {
		from, to = to, from
	}
	if to-from > 50 {
		return []int{from}
	}
	out := make([]int, 0, to-from+1)
	for s := from; s <= to; s++ {
		out = append(out, s)
	}
	return out
}

func parseGroup(title string) string {
	title = extensionRe.ReplaceAllString(strings.TrimSpace(title), "")
	m := groupRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	// A bare resolution or year after the dash is not a group name.
	candidate := m[1]
	if resolutionRe.MatchString("." + candidate + ".") {
		return ""
	}
	if n, err := strconv.Atoi(candidate); err == nil && n >= 1900 && n <= 2100 {
		return ""
	}
	return candidate
}
