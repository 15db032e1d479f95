package settings

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

var ErrPatchMismatch = errors.New("settings patch does not match media type")

const (
	DefaultImageModel     = "imagen-3.0-generate-002"
	ImageCapabilityModel  = "imagen-3.0-capability-001"
	DefaultImageAspect    = "1:1"
	DefaultAudioModel     = "chirp-3-hd-voices"
	DefaultMusicModel     = "lyria-base-001"
	DefaultVideoModel     = "veo-2.0-generate-001"
	DefaultVideoAspect    = "16:9"
	DefaultVideoDuration  = "5"
	DefaultSeed           = 42
	DefaultSampleCount    = 1
	DefaultAudioSampleHz  = "22050"
	DefaultAudioEncoding  = "mp3"
	DefaultAudioLanguage  = "en-US"
	DefaultAudioVoice     = "default"
	DefaultPersonGenerate = "true"
)

// Settings is implemented by the four per-media-type settings structs.
type Settings interface {
	MediaType() model.MediaType
}

type ImageSettings struct {
	Model               string `json:"model"`
	AspectRatio         string `json:"aspectRatio"`
	SampleCount         int    `json:"sampleCount"`
	AllowPeopleAndFaces bool   `json:"allowPeopleAndFaces"`
	NegativePrompt      string `json:"negativePrompt,omitempty"`
}

func (ImageSettings) MediaType() model.MediaType { return model.MediaImage }

type AudioSettings struct {
	Model           string  `json:"model"`
	Voice           string  `json:"voice"`
	Speed           float64 `json:"speed"`
	VolumeGain      float64 `json:"volumeGain"`
	AudioEncoding   string  `json:"audioEncoding"`
	AudioSampleRate string  `json:"audioSampleRate"`
	Language        string  `json:"language"`
	Seed            int     `json:"seed,omitempty"`
	NegativePrompt  string  `json:"negativePrompt,omitempty"`
}

func (AudioSettings) MediaType() model.MediaType { return model.MediaAudio }

type MusicSettings struct {
	Model          string `json:"model"`
	Seed           int    `json:"seed"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

func (MusicSettings) MediaType() model.MediaType { return model.MediaMusic }

// VideoSettings keeps DurationSeconds as a string, matching the UI select
// values. EnhancePrompt is a pointer so an unset value can default to true.
type VideoSettings struct {
	Model            string `json:"model"`
	AspectRatio      string `json:"aspectRatio"`
	SampleCount      int    `json:"sampleCount"`
	DurationSeconds  string `json:"durationSeconds"`
	EnhancePrompt    *bool  `json:"enhancePrompt,omitempty"`
	Seed             int    `json:"seed"`
	PersonGeneration string `json:"personGeneration"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
}

func (VideoSettings) MediaType() model.MediaType { return model.MediaVideo }

func (v VideoSettings) clone() VideoSettings {
	out := v
	if v.EnhancePrompt != nil {
		b := *v.EnhancePrompt
		out.EnhancePrompt = &b
	}
	return out
}

func DefaultImage() ImageSettings {
	return ImageSettings{
		Model:               DefaultImageModel,
		AspectRatio:         DefaultImageAspect,
		SampleCount:         DefaultSampleCount,
		AllowPeopleAndFaces: true,
	}
}

func DefaultAudio() AudioSettings {
	return AudioSettings{
		Model:           DefaultAudioModel,
		Voice:           DefaultAudioVoice,
		Speed:           1,
		AudioEncoding:   DefaultAudioEncoding,
		AudioSampleRate: DefaultAudioSampleHz,
		Language:        DefaultAudioLanguage,
	}
}

func DefaultMusic() MusicSettings {
	return MusicSettings{Model: DefaultMusicModel, Seed: DefaultSeed}
}

func DefaultVideo() VideoSettings {
	enhance := true
	return VideoSettings{
		Model:            DefaultVideoModel,
		AspectRatio:      DefaultVideoAspect,
		SampleCount:      DefaultSampleCount,
		DurationSeconds:  DefaultVideoDuration,
		EnhancePrompt:    &enhance,
		Seed:             DefaultSeed,
		PersonGeneration: DefaultPersonGenerate,
	}
}

// Registry holds the live settings of one studio session.
type Registry struct {
	mu    sync.RWMutex
	image ImageSettings
	audio AudioSettings
	music MusicSettings
	video VideoSettings

	// model swapped out for ImageCapabilityModel while references are saved
	replacedModel string
}

func NewRegistry() *Registry {
	return &Registry{
		image: DefaultImage(),
		audio: DefaultAudio(),
		music: DefaultMusic(),
		video: DefaultVideo(),
	}
}

func (r *Registry) Get(mt model.MediaType) (Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch mt {
	case model.MediaImage:
		return r.image, nil
	case model.MediaAudio:
		return r.audio, nil
	case model.MediaMusic:
		return r.music, nil
	case model.MediaVideo:
		return r.video.clone(), nil
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, mt)
}

func (r *Registry) Image() ImageSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.image
}

func (r *Registry) Video() VideoSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.video.clone()
}

// All returns every settings record keyed by lower-case media type.
func (r *Registry) All() map[string]Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]Settings{
		model.MediaImage.Lower(): r.image,
		model.MediaAudio.Lower(): r.audio,
		model.MediaMusic.Lower(): r.music,
		model.MediaVideo.Lower(): r.video.clone(),
	}
}

// Update merges the non-nil fields of patch into the settings for mt. Values
// are stored as given.
func (r *Registry) Update(mt model.MediaType, patch Patch) error {
	if !mt.Valid() {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, mt)
	}
	if patch == nil {
		return nil
	}
	if patch.MediaType() != mt {
		return fmt.Errorf("%w: %s patch for %s", ErrPatchMismatch, patch.MediaType(), mt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch p := patch.(type) {
	case ImagePatch:
		r.applyImage(p)
	case *ImagePatch:
		r.applyImage(*p)
	case AudioPatch:
		p.apply(&r.audio)
	case *AudioPatch:
		p.apply(&r.audio)
	case MusicPatch:
		p.apply(&r.music)
	case *MusicPatch:
		p.apply(&r.music)
	case VideoPatch:
		p.apply(&r.video)
	case *VideoPatch:
		p.apply(&r.video)
	default:
		return fmt.Errorf("%w: %T", ErrPatchMismatch, patch)
	}
	return nil
}

func (r *Registry) applyImage(p ImagePatch) {
	if p.Model != nil {
		r.replacedModel = ""
	}
	p.apply(&r.image)
}

// ApplyReferencePresence picks the image model variant for the current
// reference set: edits need the capability model, plain prompts a generate
// model. Switching back restores the generate model the user had before.
// Custom models other than these are left alone.
func (r *Registry) ApplyReferencePresence(hasReferences bool) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.image.Model
	switch {
	case hasReferences && (current == "" || isGenerateModel(current)):
		r.replacedModel = current
		r.image.Model = ImageCapabilityModel
	case !hasReferences && current == ImageCapabilityModel:
		r.image.Model = r.replacedModel
		if r.image.Model == "" {
			r.image.Model = DefaultImageModel
		}
		r.replacedModel = ""
	}
	return r.image.Model != current
}

func isGenerateModel(name string) bool {
	return strings.HasPrefix(name, "imagen-") && strings.Contains(name, "-generate-")
}
