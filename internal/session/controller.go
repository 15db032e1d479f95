// Package session runs one studio generation at a time: validation,
// reference upload, payload building, the API call and, for video, the
// status poll loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/metrics"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/payload"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
)

const MinPromptLength = 3

var (
	ErrNoProject            = errors.New("no project selected")
	ErrPromptTooShort       = fmt.Errorf("prompt must be at least %d characters", MinPromptLength)
	ErrSuperseded           = errors.New("generation superseded")
	ErrGenerationFailed     = errors.New("generation failed")
	ErrPollTimeout          = errors.New("generation timed out")
	ErrInvalidUpscaleFactor = errors.New("upscale factor must be x2 or x4")
	ErrMissingUpscaleSource = errors.New("upscale requires a stored image uri")

	errEmptyStatus = errors.New("empty operation status")
)

const referenceUploadWarning = "There was an issue uploading reference images. Generation will continue but some images may not be used."

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// Generator is the part of the generation API the controller calls.
type Generator interface {
	GenerateImage(ctx context.Context, req model.ImageGenerationRequest) (*model.MediaResponse, error)
	GenerateAudio(ctx context.Context, req model.AudioGenerationRequest) (*model.MediaResponse, error)
	GenerateMusic(ctx context.Context, req model.MusicGenerationRequest) (*model.MediaResponse, error)
	GenerateVideo(ctx context.Context, req model.VideoGenerationRequest) (*model.OperationResponse, error)
	OperationStatus(ctx context.Context, operationID string) (*model.MediaResponse, error)
	UpscaleImage(ctx context.Context, req model.ImageUpscaleRequest) (*model.MediaResponse, error)
}

type References interface {
	HasSaved() bool
	UploadSaved(ctx context.Context) ([]model.Reference, error)
}

type SettingsSource interface {
	Get(mt model.MediaType) (settings.Settings, error)
}

// CompletionNotifier is told about every generation that finished.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, item *model.MediaResponse)
}

type Config struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

type State struct {
	SelectedMediaType model.MediaType          `json:"selectedMediaType"`
	Prompt            string                   `json:"prompt"`
	Phase             Phase                    `json:"phase"`
	IsGenerating      bool                     `json:"isGenerating"`
	MediaResponse     *model.MediaResponse     `json:"mediaResponse"`
	OperationResponse *model.OperationResponse `json:"operationResponse"`
	Generation        uint64                   `json:"generation"`
	PollAttempts      int                      `json:"pollAttempts"`
	LastError         string                   `json:"lastError,omitempty"`
	Warnings          []string                 `json:"warnings,omitempty"`
}

type SubmitInput struct {
	ProjectID string
	Prompt    string
}

type UpscaleInput struct {
	ProjectID     string
	Prompt        string
	GCSURI        string
	UpscaleFactor string
	Model         string
}

type Option func(*Controller)

func WithNotifier(n events.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithEmitter(e events.Emitter) Option {
	return func(c *Controller) { c.emitter = e }
}

func WithCompletionNotifier(n CompletionNotifier) Option {
	return func(c *Controller) { c.completions = n }
}

// WithSleep replaces the wait between status polls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

type Controller struct {
	api         Generator
	refs        References
	settings    SettingsSource
	notifier    events.Notifier
	emitter     events.Emitter
	completions CompletionNotifier
	log         *slog.Logger
	cfg         Config
	sleep       func(ctx context.Context, d time.Duration) error

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	state      State
	token      uint64
	done       chan struct{}
	doneClosed bool
}

func NewController(api Generator, refs References, reg SettingsSource, logger *slog.Logger, cfg Config, opts ...Option) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPollAttempts < 1 {
		cfg.MaxPollAttempts = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)
	c := &Controller{
		api:      api,
		refs:     refs,
		settings: reg,
		notifier: events.Discard{},
		emitter:  events.Discard{},
		log:      logger,
		cfg:      cfg,
		sleep:    sleepCtx,
		baseCtx:  baseCtx,
		stop:     stop,
		state: State{
			SelectedMediaType: model.MediaImage,
			Phase:             PhaseIdle,
		},
		done:       done,
		doneClosed: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCompletionNotifier wires the history manager after construction; the
// two depend on each other.
func (c *Controller) SetCompletionNotifier(n CompletionNotifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = n
}

// Close stops poll loops and waits for them to exit.
func (c *Controller) Close() {
	c.stop()
	c.wg.Wait()
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	if s.MediaResponse != nil {
		resp := *s.MediaResponse
		s.MediaResponse = &resp
	}
	if s.OperationResponse != nil {
		op := *s.OperationResponse
		s.OperationResponse = &op
	}
	s.Warnings = append([]string(nil), s.Warnings...)
	return s
}

// Wait blocks until the current generation leaves submitting/polling.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

type selectOptions struct {
	keepMediaResponse bool
}

type SelectOption func(*selectOptions)

// KeepMediaResponse keeps the displayed result when switching media type.
// History replay uses it to show the replayed item.
func KeepMediaResponse() SelectOption {
	return func(o *selectOptions) { o.keepMediaResponse = true }
}

// SetSelectedMediaType switches the active media type. Any in-flight
// generation is abandoned: its results will not be applied.
func (c *Controller) SetSelectedMediaType(mt model.MediaType, opts ...SelectOption) error {
	if !mt.Valid() {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, mt)
	}
	var o selectOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	c.state.SelectedMediaType = mt
	if c.state.IsGenerating {
		c.token++
		c.state.Generation = c.token
		c.state.IsGenerating = false
		c.state.Phase = PhaseIdle
		c.settleLocked()
		c.log.Info("generation_abandoned", "media_type", mt)
	}
	if !o.keepMediaResponse {
		c.state.MediaResponse = nil
		c.state.OperationResponse = nil
		c.state.Warnings = nil
		c.state.LastError = ""
		c.state.Phase = PhaseIdle
	}
	state := c.snapshotLocked()
	c.mu.Unlock()

	c.publishState(state)
	return nil
}

func (c *Controller) SetPrompt(prompt string) {
	c.mu.Lock()
	c.state.Prompt = prompt
	state := c.snapshotLocked()
	c.mu.Unlock()
	c.publishState(state)
}

func (c *Controller) SetMediaResponse(resp *model.MediaResponse) {
	c.mu.Lock()
	if resp != nil {
		cp := *resp
		resp = &cp
	}
	c.state.MediaResponse = resp
	state := c.snapshotLocked()
	c.mu.Unlock()
	c.publishState(state)
}

// Submit validates the input and starts a generation for the selected media
// type. Image, audio and music return once the result is in; video returns
// once the operation is accepted and keeps polling in the background.
func (c *Controller) Submit(ctx context.Context, in SubmitInput) error {
	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		c.notify(events.LevelError, "No project selected", "Please select a project before generating media.")
		return ErrNoProject
	}
	prompt := strings.TrimSpace(in.Prompt)
	if utf8.RuneCountInString(prompt) < MinPromptLength {
		c.notify(events.LevelError, "Prompt too short", ErrPromptTooShort.Error())
		return ErrPromptTooShort
	}

	c.mu.Lock()
	mt := c.state.SelectedMediaType
	if !mt.Valid() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, mt)
	}
	c.token++
	token := c.token
	c.state.Prompt = prompt
	c.state.Phase = PhaseSubmitting
	c.state.IsGenerating = true
	c.state.MediaResponse = nil
	c.state.OperationResponse = nil
	c.state.Generation = token
	c.state.PollAttempts = 0
	c.state.LastError = ""
	c.state.Warnings = nil
	if c.doneClosed {
		c.done = make(chan struct{})
		c.doneClosed = false
	}
	state := c.snapshotLocked()
	c.mu.Unlock()

	c.publishState(state)
	c.log.Info("generation_submitted", "media_type", mt, "project_id", projectID, "generation", token)
	return c.run(ctx, token, mt, projectID, prompt)
}

func (c *Controller) run(ctx context.Context, token uint64, mt model.MediaType, projectID, prompt string) error {
	var refData []model.ReferenceData
	if mt.SupportsReferences() && c.refs != nil && c.refs.HasSaved() {
		uploaded, err := c.refs.UploadSaved(ctx)
		if err != nil {
			c.log.Warn("reference_upload_incomplete", "generation", token, "error", err)
			c.addWarning(token, referenceUploadWarning)
			c.notify(events.LevelWarning, "Warning", referenceUploadWarning)
		}
		refData = payload.ReferenceDataFrom(uploaded)
	}
	if !c.isCurrent(token) {
		return ErrSuperseded
	}

	s, err := c.settings.Get(mt)
	if err != nil {
		c.fail(token, mt, err)
		return err
	}
	p, err := payload.Build(payload.Input{
		MediaType:  mt,
		Prompt:     prompt,
		ProjectID:  projectID,
		Settings:   s,
		References: refData,
	})
	if err != nil {
		c.fail(token, mt, err)
		return err
	}
	for _, w := range p.Warnings {
		c.addWarning(token, w)
		c.notify(events.LevelWarning, "Video Mode Constraints", w)
	}

	if mt.Async() {
		body, ok := p.Body.(model.VideoGenerationRequest)
		if !ok {
			err = fmt.Errorf("%w: %T", model.ErrUnsupportedMediaType, p.Body)
			c.fail(token, mt, err)
			return err
		}
		op, err := c.api.GenerateVideo(ctx, body)
		if err != nil {
			c.fail(token, mt, err)
			return err
		}
		return c.startPolling(ctx, token, mt, op)
	}

	var resp *model.MediaResponse
	switch body := p.Body.(type) {
	case model.ImageGenerationRequest:
		resp, err = c.api.GenerateImage(ctx, body)
	case model.AudioGenerationRequest:
		resp, err = c.api.GenerateAudio(ctx, body)
	case model.MusicGenerationRequest:
		resp, err = c.api.GenerateMusic(ctx, body)
	default:
		err = fmt.Errorf("%w: %T", model.ErrUnsupportedMediaType, p.Body)
	}
	if err != nil {
		c.fail(token, mt, err)
		return err
	}
	if !c.complete(ctx, token, mt, resp) {
		return ErrSuperseded
	}
	return nil
}

func (c *Controller) startPolling(ctx context.Context, token uint64, mt model.MediaType, op *model.OperationResponse) error {
	if op == nil || op.OperationID == "" {
		err := fmt.Errorf("%w: no operation id returned", ErrGenerationFailed)
		c.fail(token, mt, err)
		return err
	}

	c.mu.Lock()
	if token != c.token {
		c.mu.Unlock()
		return ErrSuperseded
	}
	opCopy := *op
	c.state.OperationResponse = &opCopy
	c.state.Phase = PhasePolling
	state := c.snapshotLocked()
	c.mu.Unlock()
	c.publishState(state)

	// The loop outlives the request but keeps its values (the caller's
	// bearer token); Close cancels it.
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(c.baseCtx, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer stopAfter()
		defer cancel()
		c.poll(pollCtx, token, mt, opCopy.OperationID)
	}()
	return nil
}

func (c *Controller) poll(ctx context.Context, token uint64, mt model.MediaType, operationID string) {
	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return
		}
		if !c.recordAttempt(token, attempt) {
			c.log.Info("poll_abandoned", "operation_id", operationID, "generation", token)
			return
		}

		resp, err := c.api.OperationStatus(ctx, operationID)
		if err == nil && resp == nil {
			err = errEmptyStatus
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.RecordPoll("error")
			c.log.Warn("poll_attempt_failed", "operation_id", operationID, "attempt", attempt, "error", err)
			continue
		}
		if !resp.Status.Terminal() {
			metrics.RecordPoll("pending")
			continue
		}

		if resp.Status == model.StatusSucceeded {
			metrics.RecordPoll("succeeded")
			c.complete(ctx, token, mt, resp)
			return
		}
		metrics.RecordPoll("failed")
		msg := resp.Error
		if msg == "" {
			msg = "The video generation operation failed."
		}
		c.fail(token, mt, fmt.Errorf("%w: %s", ErrGenerationFailed, msg))
		return
	}

	c.log.Warn("poll_exhausted", "operation_id", operationID, "attempts", c.cfg.MaxPollAttempts)
	if c.settle(token, mt, PhaseFailed, nil, ErrPollTimeout.Error(), "timeout") {
		c.notify(events.LevelError, "Generation timed out",
			fmt.Sprintf("The video was not ready after %d status checks. Check the history later.", c.cfg.MaxPollAttempts))
	}
}

func (c *Controller) recordAttempt(token uint64, attempt int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.token {
		return false
	}
	c.state.PollAttempts = attempt
	return true
}

func (c *Controller) complete(ctx context.Context, token uint64, mt model.MediaType, resp *model.MediaResponse) bool {
	if resp == nil {
		c.fail(token, mt, fmt.Errorf("%w: empty response", ErrGenerationFailed))
		return false
	}
	if !c.settle(token, mt, PhaseComplete, resp, "", "succeeded") {
		return false
	}
	c.log.Info("generation_completed", "media_type", mt, "media_id", resp.ID, "generation", token)

	c.mu.Lock()
	completions := c.completions
	c.mu.Unlock()
	if completions != nil {
		completions.NotifyCompletion(ctx, resp)
	}
	c.notify(events.LevelSuccess, "Generation complete", fmt.Sprintf("Your %s is ready.", mt.Lower()))
	return true
}

func (c *Controller) fail(token uint64, mt model.MediaType, err error) {
	msg := mediaapi.Message(err, "")
	if !c.settle(token, mt, PhaseFailed, nil, msg, "failed") {
		return
	}
	c.log.Error("generation_failed", "media_type", mt, "generation", token, "error", err)
	c.notify(events.LevelError, "Generation failed", msg)
}

// settle ends the generation identified by token. It reports false, and
// changes nothing, when a newer generation has started since.
func (c *Controller) settle(token uint64, mt model.MediaType, phase Phase, resp *model.MediaResponse, errMsg, outcome string) bool {
	c.mu.Lock()
	if token != c.token {
		c.mu.Unlock()
		c.log.Info("stale_result_dropped", "generation", token, "media_type", mt)
		return false
	}
	if resp != nil {
		cp := *resp
		c.state.MediaResponse = &cp
	}
	c.state.Phase = phase
	c.state.IsGenerating = false
	c.state.LastError = errMsg
	c.settleLocked()
	state := c.snapshotLocked()
	c.mu.Unlock()

	metrics.RecordGeneration(mt.Lower(), outcome)
	c.publishState(state)
	return true
}

func (c *Controller) settleLocked() {
	if !c.doneClosed {
		close(c.done)
		c.doneClosed = true
	}
}

func (c *Controller) isCurrent(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return token == c.token
}

func (c *Controller) addWarning(token uint64, w string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == c.token {
		c.state.Warnings = append(c.state.Warnings, w)
	}
}

// Upscale sends an existing image to the upscaler. It does not touch the
// active generation.
func (c *Controller) Upscale(ctx context.Context, in UpscaleInput) (*model.MediaResponse, error) {
	if strings.TrimSpace(in.ProjectID) == "" {
		c.notify(events.LevelError, "No project selected", "Please select a project before upscaling.")
		return nil, ErrNoProject
	}
	if in.GCSURI == "" {
		return nil, ErrMissingUpscaleSource
	}
	if in.UpscaleFactor != "x2" && in.UpscaleFactor != "x4" {
		return nil, ErrInvalidUpscaleFactor
	}
	resp, err := c.api.UpscaleImage(ctx, model.ImageUpscaleRequest{
		MediaBase: model.MediaBase{
			ProjectID: in.ProjectID,
			Prompt:    in.Prompt,
			MediaType: model.MediaImage,
		},
		GCSURI:        in.GCSURI,
		UpscaleFactor: in.UpscaleFactor,
		Model:         in.Model,
	})
	if err != nil {
		c.log.Error("upscale_failed", "factor", in.UpscaleFactor, "error", err)
		c.notify(events.LevelError, "Upscale failed", mediaapi.Message(err, "Unknown error occurred"))
		return nil, err
	}
	c.log.Info("upscale_completed", "factor", in.UpscaleFactor, "media_id", resp.ID)

	c.mu.Lock()
	completions := c.completions
	c.mu.Unlock()
	if completions != nil {
		completions.NotifyCompletion(ctx, resp)
	}
	c.notify(events.LevelSuccess, "Image upscaled", fmt.Sprintf("Upscaled %s.", in.UpscaleFactor))
	return resp, nil
}

func (c *Controller) notify(level events.Level, title, message string) {
	c.notifier.Notify(events.Notice{Level: level, Title: title, Message: message})
}

func (c *Controller) publishState(s State) {
	c.emitter.Emit(model.EventStateChanged, map[string]any{
		"selectedMediaType": s.SelectedMediaType,
		"phase":             s.Phase,
		"isGenerating":      s.IsGenerating,
		"generation":        s.Generation,
		"hasResult":         s.MediaResponse != nil,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
