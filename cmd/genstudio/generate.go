package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/reference"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
	"github.com/huynh-missingcorner/media-studio-app/internal/store"
	"github.com/huynh-missingcorner/media-studio-app/internal/telemetry"
)

var generateOpts struct {
	mediaType   string
	prompt      string
	projectID   string
	references  []string
	aspectRatio string
	wait        bool
	mock        bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one media item and print the result as JSON",
	RunE:  runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&generateOpts.mediaType, "type", "t", "image", "Media type: image, video, audio or music")
	f.StringVarP(&generateOpts.prompt, "prompt", "p", "", "Generation prompt")
	f.StringVar(&generateOpts.projectID, "project", "", "Project id")
	f.StringSliceVarP(&generateOpts.references, "reference", "r", nil, "Reference image file (repeatable, image and video only)")
	f.StringVar(&generateOpts.aspectRatio, "aspect-ratio", "", "Aspect ratio override for image or video")
	f.BoolVar(&generateOpts.wait, "wait", true, "Wait for video polling to finish")
	f.BoolVar(&generateOpts.mock, "mock", false, "Use the in-process mock generation API")
	_ = generateCmd.MarkFlagRequired("prompt")
	_ = generateCmd.MarkFlagRequired("project")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if generateOpts.mock {
		cfg.Mock = true
	}
	mt, err := model.ParseMediaType(generateOpts.mediaType)
	if err != nil {
		return err
	}
	logger := telemetry.NewLoggerTo(os.Stderr, cfg.LogLevel)

	notices := &events.Recorder{}
	st := store.NewMemoryStore(store.Deps{
		API:    newAPI(cfg),
		Logger: logger,
		Session: session.Config{
			PollInterval:    cfg.PollInterval,
			MaxPollAttempts: cfg.MaxPollAttempts,
		},
		Upload: reference.Options{
			Concurrency: cfg.UploadConcurrency,
			CacheTTL:    cfg.UploadCacheTTL,
		},
		HistoryPageSize: cfg.HistoryPageSize,
		SessionOptions:  []session.Option{session.WithNotifier(notices)},
	})
	defer st.Close()
	ws := st.Workspace("cli")

	if len(generateOpts.references) > 0 {
		if err := addReferenceFiles(ws.References, generateOpts.references); err != nil {
			return err
		}
	}
	if err := applyAspectRatio(ws.Settings, mt, generateOpts.aspectRatio); err != nil {
		return err
	}
	if err := ws.Session.SetSelectedMediaType(mt); err != nil {
		return err
	}

	start := time.Now()
	if err := ws.Session.Submit(ctx, session.SubmitInput{
		ProjectID: generateOpts.projectID,
		Prompt:    generateOpts.prompt,
	}); err != nil {
		return err
	}
	state := ws.Session.Snapshot()
	if state.IsGenerating && generateOpts.wait {
		logger.Info("waiting_for_operation", "operation_id", operationID(state))
		if state, err = ws.Session.Wait(ctx); err != nil {
			return err
		}
	}
	for _, n := range notices.Notices() {
		if n.Level == events.LevelWarning || n.Level == events.LevelError {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", n.Title, n.Message)
		}
	}
	if state.Phase == session.PhaseFailed {
		return errors.New(state.LastError)
	}
	logger.Info("generate_finished", "phase", state.Phase, "elapsed_ms", time.Since(start).Milliseconds())

	out := any(state.MediaResponse)
	if state.MediaResponse == nil {
		out = state.OperationResponse
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func addReferenceFiles(refs *reference.Manager, paths []string) error {
	draft := refs.OpenDraft()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read reference %s: %w", path, err)
		}
		if _, err := refs.AddImage(draft.ID, model.ReferenceImage{ImageURL: reference.DataURL(data)}); err != nil {
			return err
		}
	}
	refs.SaveDraft()
	return nil
}

func applyAspectRatio(reg *settings.Registry, mt model.MediaType, ratio string) error {
	if ratio == "" {
		return nil
	}
	switch mt {
	case model.MediaImage:
		return reg.Update(mt, settings.ImagePatch{AspectRatio: &ratio})
	case model.MediaVideo:
		return reg.Update(mt, settings.VideoPatch{AspectRatio: &ratio})
	}
	return fmt.Errorf("--aspect-ratio does not apply to %s", mt.Lower())
}

func operationID(s session.State) string {
	if s.OperationResponse == nil {
		return ""
	}
	return s.OperationResponse.OperationID
}
