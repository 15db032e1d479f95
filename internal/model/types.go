package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnsupportedMediaType = errors.New("unsupported media type")

type MediaType string

const (
	MediaImage MediaType = "IMAGE"
	MediaVideo MediaType = "VIDEO"
	MediaAudio MediaType = "AUDIO"
	MediaMusic MediaType = "MUSIC"
)

// ParseMediaType accepts the wire form in any case ("video", "VIDEO").
func ParseMediaType(s string) (MediaType, error) {
	mt := MediaType(strings.ToUpper(strings.TrimSpace(s)))
	if !mt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, s)
	}
	return mt, nil
}

func (m MediaType) Valid() bool {
	switch m {
	case MediaImage, MediaVideo, MediaAudio, MediaMusic:
		return true
	}
	return false
}

// SupportsReferences reports whether reference images are sent for the type.
func (m MediaType) SupportsReferences() bool {
	return m == MediaImage || m == MediaVideo
}

// Async reports whether generation returns an operation that must be polled.
func (m MediaType) Async() bool {
	return m == MediaVideo
}

func (m MediaType) Lower() string {
	return strings.ToLower(string(m))
}

type MediaStatus string

const (
	StatusPending    MediaStatus = "PENDING"
	StatusProcessing MediaStatus = "PROCESSING"
	StatusSucceeded  MediaStatus = "SUCCEEDED"
	StatusFailed     MediaStatus = "FAILED"
)

func (s MediaStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type ReferenceType string

const (
	ReferenceDefault ReferenceType = "default"
	ReferencePerson  ReferenceType = "person"
	ReferenceProduct ReferenceType = "product"
	ReferenceAnimal  ReferenceType = "animal"
	ReferenceStyle   ReferenceType = "style"
	ReferenceRaw     ReferenceType = "raw"
	ReferenceControl ReferenceType = "control"
	ReferenceMask    ReferenceType = "mask"
)

func (t ReferenceType) Valid() bool {
	switch t {
	case ReferenceDefault, ReferencePerson, ReferenceProduct, ReferenceAnimal,
		ReferenceStyle, ReferenceRaw, ReferenceControl, ReferenceMask:
		return true
	}
	return false
}

type SecondaryReferenceType string

const (
	SubjectTypeDefault SecondaryReferenceType = "SUBJECT_TYPE_DEFAULT"
	SubjectTypePerson  SecondaryReferenceType = "SUBJECT_TYPE_PERSON"
	SubjectTypeProduct SecondaryReferenceType = "SUBJECT_TYPE_PRODUCT"
	SubjectTypeAnimal  SecondaryReferenceType = "SUBJECT_TYPE_ANIMAL"
	ReferenceTypeStyle SecondaryReferenceType = "REFERENCE_TYPE_STYLE"
	ReferenceTypeRaw   SecondaryReferenceType = "REFERENCE_TYPE_RAW"
	ReferenceTypeCtrl  SecondaryReferenceType = "REFERENCE_TYPE_CONTROL"
)

type ReferenceImage struct {
	ID                     string                 `json:"id"`
	ImageURL               string                 `json:"imageUrl"`
	Description            string                 `json:"description,omitempty"`
	SecondaryReferenceType SecondaryReferenceType `json:"secondaryReferenceType,omitempty"`
	GCSURI                 string                 `json:"gcsUri,omitempty"`
	BytesBase64Encoded     string                 `json:"bytesBase64Encoded,omitempty"`
}

// PendingUpload reports whether the image is local inline data that has not
// been uploaded yet.
func (i ReferenceImage) PendingUpload() bool {
	return i.GCSURI == "" && strings.HasPrefix(i.ImageURL, "data:image/")
}

type Reference struct {
	ID            string           `json:"id"`
	ReferenceID   int              `json:"referenceId"`
	ReferenceType ReferenceType    `json:"referenceType"`
	Images        []ReferenceImage `json:"images"`
}

func (r Reference) Clone() Reference {
	out := r
	out.Images = append([]ReferenceImage(nil), r.Images...)
	return out
}

func (r Reference) UploadedImages() []ReferenceImage {
	var out []ReferenceImage
	for _, img := range r.Images {
		if img.GCSURI != "" {
			out = append(out, img)
		}
	}
	return out
}

func CloneReferences(refs []Reference) []Reference {
	if refs == nil {
		return nil
	}
	out := make([]Reference, len(refs))
	for i := range refs {
		out[i] = refs[i].Clone()
	}
	return out
}

type ReferenceImageData struct {
	GCSURI             string `json:"gcsUri,omitempty"`
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
}

// ReferenceData is one uploaded image in the shape the generation API expects.
type ReferenceData struct {
	ReferenceID            int                    `json:"referenceId"`
	Description            string                 `json:"description,omitempty"`
	ReferenceType          ReferenceType          `json:"referenceType"`
	SecondaryReferenceType SecondaryReferenceType `json:"secondaryReferenceType,omitempty"`
	ReferenceImage         ReferenceImageData     `json:"referenceImage"`
}

type MediaBase struct {
	ProjectID      string    `json:"projectId"`
	Prompt         string    `json:"prompt"`
	MediaType      MediaType `json:"mediaType"`
	NegativePrompt string    `json:"negativePrompt"`
}

type ImageGenerationRequest struct {
	MediaBase
	AspectRatio   string          `json:"aspectRatio"`
	SampleCount   int             `json:"sampleCount"`
	Model         string          `json:"model"`
	ReferenceData []ReferenceData `json:"referenceData,omitempty"`
}

type VideoGenerationRequest struct {
	MediaBase
	DurationSeconds int                 `json:"durationSeconds"`
	AspectRatio     string              `json:"aspectRatio"`
	EnhancePrompt   bool                `json:"enhancePrompt"`
	SampleCount     int                 `json:"sampleCount"`
	Model           string              `json:"model"`
	Seed            int                 `json:"seed"`
	ReferenceImage  *ReferenceImageData `json:"referenceImage,omitempty"`
}

type MusicGenerationRequest struct {
	MediaBase
	DurationSeconds int    `json:"durationSeconds"`
	Genre           string `json:"genre"`
	Instrument      string `json:"instrument"`
	Tempo           int    `json:"tempo"`
	Seed            int    `json:"seed"`
}

type AudioGenerationRequest struct {
	MediaBase
	DurationSeconds int    `json:"durationSeconds"`
	AudioStyle      string `json:"audioStyle"`
	Seed            int    `json:"seed"`
}

type ImageUpscaleRequest struct {
	MediaBase
	GCSURI        string `json:"gcsUri"`
	UpscaleFactor string `json:"upscaleFactor"`
	Model         string `json:"model,omitempty"`
}

type MediaResult struct {
	ID        string         `json:"id"`
	MediaType MediaType      `json:"mediaType,omitempty"`
	ResultURL string         `json:"resultUrl"`
	GCSURI    string         `json:"gcsUri,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type MediaResponse struct {
	ID         string         `json:"id"`
	Prompt     string         `json:"prompt"`
	MediaType  MediaType      `json:"mediaType"`
	Status     MediaStatus    `json:"status"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ProjectID  string         `json:"projectId,omitempty"`
	Results    []MediaResult  `json:"results"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type OperationResponse struct {
	OperationID string `json:"operationId"`
}

type HistoryParams struct {
	Page      int       `json:"page,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	MediaType MediaType `json:"mediaType,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	Search    string    `json:"search,omitempty"`
	Status    string    `json:"status,omitempty"`
}

type PageMeta struct {
	CurrentPage  int `json:"currentPage"`
	ItemCount    int `json:"itemCount"`
	ItemsPerPage int `json:"itemsPerPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
}

type HistoryPage struct {
	Data []MediaResponse `json:"data"`
	Meta PageMeta        `json:"meta"`
}

type UploadResult struct {
	GCSURI    string `json:"gcsUri"`
	SignedURL string `json:"signedUrl,omitempty"`
}

type MultiUploadResult struct {
	Files []UploadResult `json:"files"`
}

type StudioEventType string

const (
	EventStateChanged      StudioEventType = "state_changed"
	EventReferencesChanged StudioEventType = "references_changed"
	EventHistoryChanged    StudioEventType = "history_changed"
	EventNotice            StudioEventType = "notice"
)

type StudioEvent struct {
	EventID     string          `json:"event_id"`
	Seq         int64           `json:"seq"`
	WorkspaceID string          `json:"workspace_id"`
	Type        StudioEventType `json:"type"`
	TS          time.Time       `json:"ts"`
	Payload     map[string]any  `json:"payload"`
}
