// Package reference manages the draft and saved reference images of a studio
// session and uploads them to storage before generation.
package reference

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/metrics"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

var (
	ErrReferenceNotFound = errors.New("reference not found")
	ErrImageNotFound     = errors.New("reference image not found")
	ErrInvalidType       = errors.New("invalid reference type")
	ErrInvalidDataURL    = errors.New("invalid data url")
	ErrUploadIncomplete  = errors.New("some reference images failed to upload")
)

type Uploader interface {
	UploadFile(ctx context.Context, f mediaapi.File) (*model.UploadResult, error)
}

// Listener receives a copy of the saved set after every change.
type Listener func(saved []model.Reference)

type UploadState struct {
	Uploading bool   `json:"uploading"`
	Error     string `json:"error,omitempty"`
}

type Options struct {
	Concurrency int
	CacheTTL    time.Duration
}

type ImagePatch struct {
	ImageURL               *string                       `json:"imageUrl,omitempty"`
	Description            *string                       `json:"description,omitempty"`
	SecondaryReferenceType *model.SecondaryReferenceType `json:"secondaryReferenceType,omitempty"`
	GCSURI                 *string                       `json:"gcsUri,omitempty"`
}

type Manager struct {
	uploader    Uploader
	log         *slog.Logger
	uploaded    *cache.Cache
	uploadGroup singleflight.Group
	concurrency int

	mu              sync.Mutex
	drafts          []model.Reference
	saved           []model.Reference
	nextReferenceID int
	uploading       bool
	uploadErr       string

	listenerSeq int
	listeners   map[int]Listener
}

func NewManager(uploader Uploader, logger *slog.Logger, opts Options) *Manager {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		uploader:        uploader,
		log:             logger,
		uploaded:        cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		concurrency:     opts.Concurrency,
		nextReferenceID: 1,
		listeners:       map[int]Listener{},
	}
}

// OpenDraft discards unsaved drafts and starts a new one.
func (m *Manager) OpenDraft() model.Reference {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.newDraftLocked(model.ReferenceDefault)
	m.drafts = []model.Reference{ref}
	return ref.Clone()
}

// AddReference appends another draft to the open set.
func (m *Manager) AddReference(t model.ReferenceType) (model.Reference, error) {
	if t == "" {
		t = model.ReferenceDefault
	}
	if !t.Valid() {
		return model.Reference{}, fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.newDraftLocked(t)
	m.drafts = append(m.drafts, ref)
	return ref.Clone(), nil
}

func (m *Manager) newDraftLocked(t model.ReferenceType) model.Reference {
	ref := model.Reference{
		ID:            "ref-" + uuid.NewString(),
		ReferenceID:   m.nextReferenceID,
		ReferenceType: t,
		Images:        []model.ReferenceImage{},
	}
	m.nextReferenceID++
	return ref
}

func (m *Manager) Drafts() []model.Reference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneReferences(m.drafts)
}

func (m *Manager) TotalDraftImages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ref := range m.drafts {
		n += len(ref.Images)
	}
	return n
}

func (m *Manager) UpdateReferenceType(refID string, t model.ReferenceType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := indexOf(m.drafts, refID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrReferenceNotFound, refID)
	}
	m.drafts[i].ReferenceType = t
	return nil
}

func (m *Manager) RemoveReference(refID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := indexOf(m.drafts, refID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrReferenceNotFound, refID)
	}
	m.drafts = append(m.drafts[:i], m.drafts[i+1:]...)
	return nil
}

func (m *Manager) AddImage(refID string, img model.ReferenceImage) (model.ReferenceImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := indexOf(m.drafts, refID)
	if i < 0 {
		return model.ReferenceImage{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, refID)
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.SecondaryReferenceType == "" {
		img.SecondaryReferenceType = model.SubjectTypeDefault
	}
	if img.GCSURI != "" {
		img.BytesBase64Encoded = ""
	}
	m.drafts[i].Images = append(m.drafts[i].Images, img)
	return img, nil
}

func (m *Manager) UpdateImage(refID, imageID string, patch ImagePatch) (model.ReferenceImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := indexOf(m.drafts, refID)
	if i < 0 {
		return model.ReferenceImage{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, refID)
	}
	for j := range m.drafts[i].Images {
		img := &m.drafts[i].Images[j]
		if img.ID != imageID {
			continue
		}
		if patch.ImageURL != nil {
			img.ImageURL = *patch.ImageURL
		}
		if patch.Description != nil {
			img.Description = *patch.Description
		}
		if patch.SecondaryReferenceType != nil {
			img.SecondaryReferenceType = *patch.SecondaryReferenceType
		}
		if patch.GCSURI != nil {
			img.GCSURI = *patch.GCSURI
		}
		if img.GCSURI != "" {
			img.BytesBase64Encoded = ""
		}
		return *img, nil
	}
	return model.ReferenceImage{}, fmt.Errorf("%w: %s", ErrImageNotFound, imageID)
}

func (m *Manager) RemoveImage(refID, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := indexOf(m.drafts, refID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrReferenceNotFound, refID)
	}
	images := m.drafts[i].Images
	for j := range images {
		if images[j].ID == imageID {
			m.drafts[i].Images = append(images[:j], images[j+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrImageNotFound, imageID)
}

// SaveDraft moves every draft with at least one image into the saved set.
// Empty drafts are dropped.
func (m *Manager) SaveDraft() []model.Reference {
	m.mu.Lock()
	for _, ref := range m.drafts {
		if len(ref.Images) == 0 {
			continue
		}
		m.saved = append(m.saved, ref.Clone())
	}
	m.drafts = nil
	m.mu.Unlock()
	return m.notify()
}

func (m *Manager) Saved() []model.Reference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneReferences(m.saved)
}

func (m *Manager) HasSaved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved) > 0
}

func (m *Manager) RemoveSaved(referenceID int) bool {
	m.mu.Lock()
	removed := false
	kept := m.saved[:0]
	for _, ref := range m.saved {
		if ref.ReferenceID == referenceID {
			removed = true
			continue
		}
		kept = append(kept, ref)
	}
	m.saved = kept
	m.mu.Unlock()
	m.notify()
	return removed
}

func (m *Manager) ClearSaved() {
	m.mu.Lock()
	m.saved = nil
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) UploadState() UploadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return UploadState{Uploading: m.uploading, Error: m.uploadErr}
}

// Subscribe registers fn for saved-set changes. fn runs on the mutating
// goroutine after the manager's lock is released.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenerSeq++
	id := m.listenerSeq
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) notify() []model.Reference {
	m.mu.Lock()
	saved := model.CloneReferences(m.saved)
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(model.CloneReferences(saved))
	}
	return saved
}

// UploadSaved uploads every pending inline image of the saved set and
// returns the full set. Images that fail keep their inline data and the
// returned error wraps ErrUploadIncomplete; the list is still complete.
func (m *Manager) UploadSaved(ctx context.Context) ([]model.Reference, error) {
	m.mu.Lock()
	if len(m.saved) == 0 {
		m.mu.Unlock()
		return nil, nil
	}
	snapshot := model.CloneReferences(m.saved)
	m.uploading = true
	m.uploadErr = ""
	m.mu.Unlock()

	var (
		failMu   sync.Mutex
		failures []error
	)
	eg := &errgroup.Group{}
	eg.SetLimit(m.concurrency)
	for ri := range snapshot {
		for ii := range snapshot[ri].Images {
			img := snapshot[ri].Images[ii]
			if !img.PendingUpload() {
				continue
			}
			ri, ii := ri, ii
			eg.Go(func() error {
				uri, err := m.uploadImage(ctx, img)
				if err != nil {
					m.log.Warn("reference_upload_failed",
						"reference_id", snapshot[ri].ReferenceID,
						"image_id", img.ID,
						"error", err,
					)
					failMu.Lock()
					failures = append(failures, fmt.Errorf("image %s: %w", img.ID, err))
					failMu.Unlock()
					return nil
				}
				snapshot[ri].Images[ii].GCSURI = uri
				snapshot[ri].Images[ii].BytesBase64Encoded = ""
				return nil
			})
		}
	}
	_ = eg.Wait()

	var uploadErr error
	if len(failures) > 0 {
		uploadErr = fmt.Errorf("%w: %w", ErrUploadIncomplete, errors.Join(failures...))
	}

	m.mu.Lock()
	m.saved = mergeUploaded(m.saved, snapshot)
	m.uploading = false
	if uploadErr != nil {
		m.uploadErr = uploadErr.Error()
	}
	m.mu.Unlock()

	return m.notify(), uploadErr
}

func (m *Manager) uploadImage(ctx context.Context, img model.ReferenceImage) (string, error) {
	data, declared, err := decodeDataURL(img.ImageURL)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if uri, ok := m.uploaded.Get(key); ok {
		metrics.RecordReferenceUpload("cached")
		return uri.(string), nil
	}

	val, err, _ := m.uploadGroup.Do(key, func() (any, error) {
		if uri, ok := m.uploaded.Get(key); ok {
			return uri, nil
		}
		detected := mimetype.Detect(data)
		contentType := declared
		if !strings.HasPrefix(contentType, "image/") {
			contentType = detected.String()
		}
		res, err := m.uploader.UploadFile(ctx, mediaapi.File{
			Name:        fmt.Sprintf("reference-%s%s", img.ID, detected.Extension()),
			ContentType: contentType,
			Data:        data,
		})
		if err != nil {
			metrics.RecordReferenceUpload("error")
			return nil, err
		}
		if res == nil || res.GCSURI == "" {
			metrics.RecordReferenceUpload("error")
			return nil, errors.New("upload returned no storage uri")
		}
		metrics.RecordReferenceUpload("success")
		m.uploaded.SetDefault(key, res.GCSURI)
		return res.GCSURI, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// mergeUploaded copies storage URIs from the upload snapshot onto the
// current saved set, which may have changed while uploads ran.
func mergeUploaded(current, uploaded []model.Reference) []model.Reference {
	uris := map[string]string{}
	for _, ref := range uploaded {
		for _, img := range ref.Images {
			if img.GCSURI != "" {
				uris[ref.ID+"/"+img.ID] = img.GCSURI
			}
		}
	}
	for ri := range current {
		for ii := range current[ri].Images {
			img := &current[ri].Images[ii]
			if img.GCSURI != "" {
				continue
			}
			if uri, ok := uris[current[ri].ID+"/"+img.ID]; ok {
				img.GCSURI = uri
				img.BytesBase64Encoded = ""
			}
		}
	}
	return current
}

func decodeDataURL(value string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(value, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, "", ErrInvalidDataURL
	}
	if !strings.Contains(header, ";base64") {
		return nil, "", fmt.Errorf("%w: must be base64 encoded", ErrInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}
	declared, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	return data, declared, nil
}

// DataURL encodes raw image bytes the way the browser does.
func DataURL(data []byte) string {
	return "data:" + mimetype.Detect(data).String() + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func indexOf(refs []model.Reference, id string) int {
	for i := range refs {
		if refs[i].ID == id {
			return i
		}
	}
	return -1
}
