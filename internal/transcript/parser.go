// Package transcript parses uploaded transcript files into timestamped
// segments. SRT, WebVTT and plain text are supported.
package transcript

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pausepoint/pausepoint/pkg/models"
)

// Format identifies a transcript file format.
type Format string

const (
	FormatSRT   Format = "srt"
	FormatVTT   Format = "vtt"
	FormatPlain Format = "txt"
)

var (
	srtHeadPattern  = regexp.MustCompile(`(?m)^\d+\s*\n\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->`)
	vttTimePattern  = regexp.MustCompile(`\d{2}:\d{2}:\d{2}\.\d{3}\s*-->`)
	srtStampPattern = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)
	// VTT allows omitting the hour field.
	vttStampPattern = regexp.MustCompile(`(?:(\d{2}):)?(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(?:(\d{2}):)?(\d{2}):(\d{2})[,.](\d{3})`)
	blockSeparator  = regexp.MustCompile(`\n\s*\n`)

	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	markerPattern  = regexp.MustCompile(`\[[^\]]+\]`)
	speakerPattern = regexp.MustCompile(`(?m)^(SPEAKER\s*\d*:|>>)\s*`)
)

// Parse converts raw transcript content into ordered segments. An empty
// format triggers auto-detection.
func Parse(content string, format Format) []models.Segment {
	if format == "" {
		format = DetectFormat(content)
	}
	switch format {
	case FormatSRT:
		return parseSRT(content)
	case FormatVTT:
		return parseVTT(content)
	default:
		return parsePlainText(content)
	}
}

// DetectFormat guesses the transcript format from its content.
func DetectFormat(content string) Format {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), "webvtt") {
		return FormatVTT
	}
	if srtHeadPattern.MatchString(content) {
		return FormatSRT
	}
	if vttTimePattern.MatchString(content) {
		return FormatVTT
	}
	return FormatPlain
}

func parseSRT(content string) []models.Segment {
	var segments []models.Segment

	for _, block := range blockSeparator.Split(strings.TrimSpace(content), -1) {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}

		// lines[0] is the sequence number.
		m := srtStampPattern.FindStringSubmatch(lines[1])
		if m == nil {
			continue
		}
		start := stampSeconds(m[1], m[2], m[3], m[4])
		end := stampSeconds(m[5], m[6], m[7], m[8])

		text := CleanText(strings.Join(lines[2:], " "))
		if text == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Text:     text,
			Start:    start,
			Duration: end - start,
		})
	}
	return segments
}

func parseVTT(content string) []models.Segment {
	lines := strings.Split(content, "\n")

	// Skip the WEBVTT header and any metadata before the first cue.
	contentStart := 0
	for i, line := range lines {
		if strings.Contains(line, "-->") {
			contentStart = i
			break
		}
	}

	var segments []models.Segment
	var block []string
	flush := func() {
		if len(block) == 0 {
			return
		}
		if seg, ok := parseVTTBlock(block); ok {
			segments = append(segments, seg)
		}
		block = nil
	}

	for _, line := range lines[contentStart:] {
		if strings.TrimSpace(line) != "" {
			block = append(block, line)
		} else {
			flush()
		}
	}
	flush()

	return segments
}

func parseVTTBlock(lines []string) (models.Segment, bool) {
	var stampLine string
	var textLines []string
	for _, line := range lines {
		if strings.Contains(line, "-->") {
			stampLine = line
		} else if stampLine != "" {
			textLines = append(textLines, line)
		}
	}
	if stampLine == "" {
		return models.Segment{}, false
	}

	m := vttStampPattern.FindStringSubmatch(stampLine)
	if m == nil {
		return models.Segment{}, false
	}
	start := stampSeconds(m[1], m[2], m[3], m[4])
	end := stampSeconds(m[5], m[6], m[7], m[8])

	text := CleanText(strings.Join(textLines, " "))
	if text == "" {
		return models.Segment{}, false
	}
	return models.Segment{
		Text:     text,
		Start:    start,
		Duration: end - start,
	}, true
}

// parsePlainText splits paragraphs into segments with durations
// estimated from word count at 150 words per minute, clamped to 3-60
// seconds per segment.
func parsePlainText(content string) []models.Segment {
	const wordsPerMinute = 150.0

	var segments []models.Segment
	currentTime := 0.0

	for _, para := range blockSeparator.Split(strings.TrimSpace(content), -1) {
		text := CleanText(para)
		if text == "" {
			continue
		}

		words := float64(len(strings.Fields(text)))
		duration := words / wordsPerMinute * 60
		if duration < 3 {
			duration = 3
		} else if duration > 60 {
			duration = 60
		}

		segments = append(segments, models.Segment{
			Text:     text,
			Start:    currentTime,
			Duration: duration,
		})
		currentTime += duration
	}
	return segments
}

// CleanText strips markup and noise from subtitle text: HTML/VTT tags,
// bracketed markers like [Music], and speaker labels.
func CleanText(text string) string {
	text = tagPattern.ReplaceAllString(text, "")
	text = markerPattern.ReplaceAllString(text, "")
	text = speakerPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// stampSeconds converts hh, mm, ss, mmm strings to seconds. An empty
// hour field counts as zero.
func stampSeconds(h, m, s, ms string) float64 {
	hours := 0
	if h != "" {
		hours, _ = strconv.Atoi(h)
	}
	mins, _ := strconv.Atoi(m)
	secs, _ := strconv.Atoi(s)
	millis, _ := strconv.Atoi(ms)
	return float64(hours*3600+mins*60+secs) + float64(millis)/1000
}
