// Package payload turns the session's prompt, settings and uploaded
// references into the request body for each generation endpoint.
package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
)

var ErrSettingsMismatch = errors.New("settings do not match media type")

const (
	DefaultDurationSeconds = 5
	DefaultMusicGenre      = "ambient"
	DefaultMusicInstrument = "piano"
	DefaultMusicTempo      = 120
	DefaultAudioStyle      = "natural"
)

// VideoReferenceWarning is attached when the video payload had to drop
// references or images.
const VideoReferenceWarning = "Only the first image from the first reference will be used for video generation. Other references and images are ignored."

type Input struct {
	MediaType  model.MediaType
	Prompt     string
	ProjectID  string
	Settings   settings.Settings
	References []model.ReferenceData
}

type Payload struct {
	MediaType model.MediaType
	// Body is one of the model.*GenerationRequest values.
	Body     any
	Warnings []string
}

// Build is pure: missing settings fields fall back to the API defaults.
func Build(in Input) (*Payload, error) {
	base := model.MediaBase{
		ProjectID: in.ProjectID,
		Prompt:    in.Prompt,
		MediaType: in.MediaType,
	}

	switch in.MediaType {
	case model.MediaImage:
		s, err := settingsAs[settings.ImageSettings](in)
		if err != nil {
			return nil, err
		}
		base.NegativePrompt = s.NegativePrompt
		body := model.ImageGenerationRequest{
			MediaBase:   base,
			AspectRatio: orString(s.AspectRatio, settings.DefaultImageAspect),
			SampleCount: orInt(s.SampleCount, settings.DefaultSampleCount),
			Model:       orString(s.Model, settings.DefaultImageModel),
		}
		if len(in.References) > 0 {
			body.ReferenceData = append([]model.ReferenceData(nil), in.References...)
		}
		return &Payload{MediaType: in.MediaType, Body: body}, nil

	case model.MediaVideo:
		s, err := settingsAs[settings.VideoSettings](in)
		if err != nil {
			return nil, err
		}
		base.NegativePrompt = s.NegativePrompt
		enhance := true
		if s.EnhancePrompt != nil {
			enhance = *s.EnhancePrompt
		}
		body := model.VideoGenerationRequest{
			MediaBase:       base,
			DurationSeconds: parseDuration(s.DurationSeconds),
			AspectRatio:     orString(s.AspectRatio, settings.DefaultVideoAspect),
			EnhancePrompt:   enhance,
			SampleCount:     orInt(s.SampleCount, settings.DefaultSampleCount),
			Model:           orString(s.Model, settings.DefaultVideoModel),
			Seed:            orInt(s.Seed, settings.DefaultSeed),
		}
		p := &Payload{MediaType: in.MediaType}
		if len(in.References) > 0 {
			first := in.References[0].ReferenceImage
			body.ReferenceImage = &first
			if len(in.References) > 1 {
				p.Warnings = append(p.Warnings, VideoReferenceWarning)
			}
		}
		p.Body = body
		return p, nil

	case model.MediaMusic:
		s, err := settingsAs[settings.MusicSettings](in)
		if err != nil {
			return nil, err
		}
		base.NegativePrompt = s.NegativePrompt
		return &Payload{MediaType: in.MediaType, Body: model.MusicGenerationRequest{
			MediaBase:       base,
			DurationSeconds: DefaultDurationSeconds,
			Genre:           DefaultMusicGenre,
			Instrument:      DefaultMusicInstrument,
			Tempo:           DefaultMusicTempo,
			Seed:            orInt(s.Seed, settings.DefaultSeed),
		}}, nil

	case model.MediaAudio:
		s, err := settingsAs[settings.AudioSettings](in)
		if err != nil {
			return nil, err
		}
		base.NegativePrompt = s.NegativePrompt
		return &Payload{MediaType: in.MediaType, Body: model.AudioGenerationRequest{
			MediaBase:       base,
			DurationSeconds: DefaultDurationSeconds,
			AudioStyle:      DefaultAudioStyle,
			Seed:            orInt(s.Seed, settings.DefaultSeed),
		}}, nil
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, in.MediaType)
}

// ReferenceDataFrom flattens saved references in order, keeping only images
// that already have a storage URI.
func ReferenceDataFrom(refs []model.Reference) []model.ReferenceData {
	var out []model.ReferenceData
	for _, ref := range refs {
		for _, img := range ref.UploadedImages() {
			out = append(out, model.ReferenceData{
				ReferenceID:            ref.ReferenceID,
				Description:            img.Description,
				ReferenceType:          ref.ReferenceType,
				SecondaryReferenceType: img.SecondaryReferenceType,
				ReferenceImage: model.ReferenceImageData{
					GCSURI:             img.GCSURI,
					BytesBase64Encoded: img.BytesBase64Encoded,
				},
			})
		}
	}
	return out
}

func settingsAs[T settings.Settings](in Input) (T, error) {
	var zero T
	if in.Settings == nil {
		return zero, nil
	}
	switch s := any(in.Settings).(type) {
	case T:
		return s, nil
	case *T:
		if s == nil {
			return zero, nil
		}
		return *s, nil
	}
	return zero, fmt.Errorf("%w: %T for %s", ErrSettingsMismatch, in.Settings, in.MediaType)
}

func parseDuration(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return DefaultDurationSeconds
	}
	return n
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
