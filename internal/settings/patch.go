package settings

import (
	"fmt"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

// Patch is a partial settings update. Nil fields are left untouched.
type Patch interface {
	MediaType() model.MediaType
}

type ImagePatch struct {
	Model               *string `json:"model,omitempty"`
	AspectRatio         *string `json:"aspectRatio,omitempty"`
	SampleCount         *int    `json:"sampleCount,omitempty"`
	AllowPeopleAndFaces *bool   `json:"allowPeopleAndFaces,omitempty"`
	NegativePrompt      *string `json:"negativePrompt,omitempty"`
}

func (ImagePatch) MediaType() model.MediaType { return model.MediaImage }

func (p ImagePatch) apply(s *ImageSettings) {
	setIf(&s.Model, p.Model)
	setIf(&s.AspectRatio, p.AspectRatio)
	setIf(&s.SampleCount, p.SampleCount)
	setIf(&s.AllowPeopleAndFaces, p.AllowPeopleAndFaces)
	setIf(&s.NegativePrompt, p.NegativePrompt)
}

type AudioPatch struct {
	Model           *string  `json:"model,omitempty"`
	Voice           *string  `json:"voice,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	VolumeGain      *float64 `json:"volumeGain,omitempty"`
	AudioEncoding   *string  `json:"audioEncoding,omitempty"`
	AudioSampleRate *string  `json:"audioSampleRate,omitempty"`
	Language        *string  `json:"language,omitempty"`
	Seed            *int     `json:"seed,omitempty"`
	NegativePrompt  *string  `json:"negativePrompt,omitempty"`
}

func (AudioPatch) MediaType() model.MediaType { return model.MediaAudio }

func (p AudioPatch) apply(s *AudioSettings) {
	setIf(&s.Model, p.Model)
	setIf(&s.Voice, p.Voice)
	setIf(&s.Speed, p.Speed)
	setIf(&s.VolumeGain, p.VolumeGain)
	setIf(&s.AudioEncoding, p.AudioEncoding)
	setIf(&s.AudioSampleRate, p.AudioSampleRate)
	setIf(&s.Language, p.Language)
	setIf(&s.Seed, p.Seed)
	setIf(&s.NegativePrompt, p.NegativePrompt)
}

type MusicPatch struct {
	Model          *string `json:"model,omitempty"`
	Seed           *int    `json:"seed,omitempty"`
	NegativePrompt *string `json:"negativePrompt,omitempty"`
}

func (MusicPatch) MediaType() model.MediaType { return model.MediaMusic }

func (p MusicPatch) apply(s *MusicSettings) {
	setIf(&s.Model, p.Model)
	setIf(&s.Seed, p.Seed)
	setIf(&s.NegativePrompt, p.NegativePrompt)
}

type VideoPatch struct {
	Model            *string `json:"model,omitempty"`
	AspectRatio      *string `json:"aspectRatio,omitempty"`
	SampleCount      *int    `json:"sampleCount,omitempty"`
	DurationSeconds  *string `json:"durationSeconds,omitempty"`
	EnhancePrompt    *bool   `json:"enhancePrompt,omitempty"`
	Seed             *int    `json:"seed,omitempty"`
	PersonGeneration *string `json:"personGeneration,omitempty"`
	NegativePrompt   *string `json:"negativePrompt,omitempty"`
}

func (VideoPatch) MediaType() model.MediaType { return model.MediaVideo }

func (p VideoPatch) apply(s *VideoSettings) {
	setIf(&s.Model, p.Model)
	setIf(&s.AspectRatio, p.AspectRatio)
	setIf(&s.SampleCount, p.SampleCount)
	setIf(&s.DurationSeconds, p.DurationSeconds)
	if p.EnhancePrompt != nil {
		b := *p.EnhancePrompt
		s.EnhancePrompt = &b
	}
	setIf(&s.Seed, p.Seed)
	setIf(&s.PersonGeneration, p.PersonGeneration)
	setIf(&s.NegativePrompt, p.NegativePrompt)
}

// NewPatch returns an empty patch for mt, ready to be JSON-decoded into.
func NewPatch(mt model.MediaType) (Patch, error) {
	switch mt {
	case model.MediaImage:
		return &ImagePatch{}, nil
	case model.MediaAudio:
		return &AudioPatch{}, nil
	case model.MediaMusic:
		return &MusicPatch{}, nil
	case model.MediaVideo:
		return &VideoPatch{}, nil
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, mt)
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
