// Package result turns the service's result documents into typed payloads.
// The shape is chosen by the category recorded when the job was submitted.
package result

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/oukeidos/restora/internal/apperrors"
	"github.com/oukeidos/restora/internal/media"
)

type BlurLevel string

const (
	BlurLow    BlurLevel = "low"
	BlurMedium BlurLevel = "medium"
	BlurHigh   BlurLevel = "high"
)

func ParseBlurLevel(s string) (BlurLevel, error) {
	switch BlurLevel(strings.ToLower(strings.TrimSpace(s))) {
	case BlurLow:
		return BlurLow, nil
	case BlurMedium:
		return BlurMedium, nil
	case BlurHigh:
		return BlurHigh, nil
	default:
		return "", fmt.Errorf("unknown blur level %q", s)
	}
}

// Badge is the upper-case label shown next to a result.
func (l BlurLevel) Badge() string { return strings.ToUpper(string(l)) }

type BlurAssessment struct {
	Level BlurLevel
	// SharpnessScore is the Laplacian variance; nil when not computed.
	SharpnessScore *float64
	EdgeDensity    *float64
}

type TextExtraction struct {
	BeforeConfidence float64
	AfterConfidence  float64
	Improvement      float64
	BeforeTextCount  *int
	AfterTextCount   *int
}

// Image is the single-frame result. Empty strings mark absent images.
type Image struct {
	Original        string
	Deblurred       string
	Enhanced        string
	SideBySide      string
	Blur            *BlurAssessment
	ConfidenceLevel *float64
	Text            *TextExtraction
}

type Frame struct {
	ID              string
	Number          int
	Blur            *BlurAssessment
	Before          string
	Enhanced        string
	SideBySide      string
	ConfidenceLevel *float64
	Text            *TextExtraction
}

type Video struct {
	TotalFrames   int
	SampledFrames int
	OutputVideo   string
	// Frames keep the order the service returned them in.
	Frames []Frame
}

// Payload holds exactly one of Image or Video.
type Payload struct {
	Category media.Category
	Image    *Image
	Video    *Video
}

type wireBlur struct {
	Level             string   `json:"level"`
	LaplacianVariance *float64 `json:"laplacian_variance"`
	EdgeDensity       *float64 `json:"edge_density"`
}

type wireOCR struct {
	BlurConfidence     *float64 `json:"blur_confidence"`
	EnhancedConfidence *float64 `json:"enhanced_confidence"`
	Improvement        *float64 `json:"improvement"`
	BlurTextCount      *int     `json:"blur_text_count"`
	EnhancedTextCount  *int     `json:"enhanced_text_count"`
}

type wireImage struct {
	BlurDetection *wireBlur `json:"blur_detection"`
	Images        *struct {
		Original   string `json:"original"`
		Deblurred  string `json:"deblurred"`
		Enhanced   string `json:"enhanced"`
		Comparison string `json:"comparison"`
	} `json:"images"`
	OCR             *wireOCR `json:"ocr_result"`
	ConfidenceLevel *float64 `json:"confidence_level"`
}

type wireFrame struct {
	FrameID     frameID `json:"frame_id"`
	FrameNumber *int    `json:"frame_number"`
	BlurLevel   *string `json:"blur_level"`
	Images      *struct {
		Before     string `json:"before"`
		Enhanced   string `json:"enhanced"`
		Comparison string `json:"comparison"`
	} `json:"images"`
	OCR             *wireOCR `json:"ocr_result"`
	ConfidenceLevel *float64 `json:"confidence_level"`
}

type wireVideo struct {
	TotalFrames     *int         `json:"total_frames"`
	ProcessedFrames *int         `json:"processed_frames"`
	OutputVideo     string       `json:"output_video"`
	SampleFrames    *[]wireFrame `json:"sample_frames"`
}

// frameID accepts both the zero-padded string ids the service emits and
// bare numbers.
type frameID string

func (f *frameID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = frameID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("frame_id must be a string or number: %w", err)
	}
	*f = frameID(n.String())
	return nil
}

// Normalize validates raw against the shape for category.
func Normalize(raw []byte, category media.Category) (Payload, error) {
	if err := checkShape(raw, category); err != nil {
		return Payload{}, apperrors.Malformed(err)
	}
	switch category {
	case media.Image:
		img, err := normalizeImage(raw)
		if err != nil {
			return Payload{}, apperrors.Malformed(err)
		}
		return Payload{Category: media.Image, Image: img}, nil
	case media.Video:
		vid, err := normalizeVideo(raw)
		if err != nil {
			return Payload{}, apperrors.Malformed(err)
		}
		return Payload{Category: media.Video, Video: vid}, nil
	default:
		return Payload{}, apperrors.Malformed(fmt.Errorf("unknown media category %q", category))
	}
}

func normalizeImage(raw []byte) (*Image, error) {
	var w wireImage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode image result: %w", err)
	}
	if w.Images == nil {
		return nil, fmt.Errorf("image result has no images")
	}
	if w.Images.Original == "" || w.Images.Enhanced == "" {
		return nil, fmt.Errorf("image result lacks original or enhanced image")
	}
	img := &Image{
		Original:        w.Images.Original,
		Deblurred:       w.Images.Deblurred,
		Enhanced:        w.Images.Enhanced,
		SideBySide:      w.Images.Comparison,
		ConfidenceLevel: w.ConfidenceLevel,
	}
	if w.BlurDetection != nil {
		level, err := ParseBlurLevel(w.BlurDetection.Level)
		if err != nil {
			return nil, err
		}
		img.Blur = &BlurAssessment{
			Level:          level,
			SharpnessScore: w.BlurDetection.LaplacianVariance,
			EdgeDensity:    w.BlurDetection.EdgeDensity,
		}
	}
	img.Text = textExtraction(w.OCR)
	return img, nil
}

func normalizeVideo(raw []byte) (*Video, error) {
	var w wireVideo
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode video result: %w", err)
	}
	if w.TotalFrames == nil {
		return nil, fmt.Errorf("video result has no total_frames")
	}
	if w.SampleFrames == nil {
		return nil, fmt.Errorf("video result has no sample_frames")
	}
	total := *w.TotalFrames
	if total < 0 {
		return nil, fmt.Errorf("negative total_frames %d", total)
	}

	frames := make([]Frame, 0, len(*w.SampleFrames))
	seen := make(map[string]struct{}, len(*w.SampleFrames))
	for i, wf := range *w.SampleFrames {
		f, err := normalizeFrame(wf)
		if err != nil {
			return nil, fmt.Errorf("sample frame %d: %w", i, err)
		}
		if _, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("duplicate frame_id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
		frames = append(frames, f)
	}

	sampled := len(frames)
	if w.ProcessedFrames != nil {
		sampled = *w.ProcessedFrames
	}
	if sampled < 0 || sampled > total {
		return nil, fmt.Errorf("sampled frame count %d exceeds total %d", sampled, total)
	}
	return &Video{
		TotalFrames:   total,
		SampledFrames: sampled,
		OutputVideo:   w.OutputVideo,
		Frames:        frames,
	}, nil
}

func normalizeFrame(w wireFrame) (Frame, error) {
	id := strings.TrimSpace(string(w.FrameID))
	if id == "" {
		return Frame{}, fmt.Errorf("missing frame_id")
	}
	f := Frame{ID: id, ConfidenceLevel: w.ConfidenceLevel}
	switch {
	case w.FrameNumber != nil:
		f.Number = *w.FrameNumber
	default:
		n, err := strconv.Atoi(id)
		if err != nil {
			return Frame{}, fmt.Errorf("frame %q has no frame_number", id)
		}
		f.Number = n
	}
	if f.Number < 0 {
		return Frame{}, fmt.Errorf("frame %q has negative frame_number %d", id, f.Number)
	}
	if w.BlurLevel != nil {
		level, err := ParseBlurLevel(*w.BlurLevel)
		if err != nil {
			return Frame{}, err
		}
		f.Blur = &BlurAssessment{Level: level}
	}
	if w.Images != nil {
		f.Before = w.Images.Before
		f.Enhanced = w.Images.Enhanced
		f.SideBySide = w.Images.Comparison
	}
	f.Text = textExtraction(w.OCR)
	return f, nil
}

// textExtraction keeps OCR output only when both confidences were computed.
func textExtraction(w *wireOCR) *TextExtraction {
	if w == nil || w.BlurConfidence == nil || w.EnhancedConfidence == nil {
		return nil
	}
	t := &TextExtraction{
		BeforeConfidence: *w.BlurConfidence,
		AfterConfidence:  *w.EnhancedConfidence,
		BeforeTextCount:  w.BlurTextCount,
		AfterTextCount:   w.EnhancedTextCount,
	}
	if w.Improvement != nil {
		t.Improvement = *w.Improvement
	} else {
		t.Improvement = t.AfterConfidence - t.BeforeConfidence
	}
	return t
}

// DecodeImage decodes a base64 image, with or without a data URL prefix.
func DecodeImage(b64 string) ([]byte, error) {
	s := strings.TrimSpace(b64)
	if s == "" {
		return nil, apperrors.Malformed(fmt.Errorf("empty image"))
	}
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, apperrors.Malformed(fmt.Errorf("data URL without payload"))
		}
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperrors.Malformed(fmt.Errorf("failed to decode image: %w", err))
	}
	return data, nil
}
