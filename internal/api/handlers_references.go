package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/reference"
)

const maxReferenceImageBytes = 20 << 20

type openDraftRequest struct {
	ReferenceType model.ReferenceType `json:"reference_type"`
	// Append adds a draft to the open set instead of starting over.
	Append bool `json:"append"`
}

func (s *Server) openDraft(c *gin.Context) {
	var req openDraftRequest
	if c.Request.ContentLength > 0 {
		if !requireJSON(c) {
			return
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, "Invalid request body")
			return
		}
	}
	refs := s.workspace(c).References
	var (
		ref model.Reference
		err error
	)
	if req.Append {
		ref, err = refs.AddReference(req.ReferenceType)
	} else {
		ref = refs.OpenDraft()
		if req.ReferenceType != "" && req.ReferenceType != ref.ReferenceType {
			err = refs.UpdateReferenceType(ref.ID, req.ReferenceType)
			ref.ReferenceType = req.ReferenceType
		}
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, gin.H{
		"reference": ref,
		"drafts":    refs.Drafts(),
	})
}

type referenceTypeRequest struct {
	ReferenceType model.ReferenceType `json:"reference_type" binding:"required"`
}

func (s *Server) patchDraft(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req referenceTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "reference_type is required")
		return
	}
	refs := s.workspace(c).References
	if err := refs.UpdateReferenceType(c.Param("ref_id"), req.ReferenceType); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, refs.Drafts())
}

func (s *Server) deleteDraft(c *gin.Context) {
	refs := s.workspace(c).References
	if err := refs.RemoveReference(c.Param("ref_id")); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, refs.Drafts())
}

type addImageRequest struct {
	ImageURL               string                       `json:"image_url"`
	Description            string                       `json:"description"`
	SecondaryReferenceType model.SecondaryReferenceType `json:"secondary_reference_type"`
	GCSURI                 string                       `json:"gcs_uri"`
}

// addDraftImage takes either a JSON body with an image URL (usually a data
// URL) or a multipart "file" field.
func (s *Server) addDraftImage(c *gin.Context) {
	var req addImageRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		url, ok := readImageDataURL(c)
		if !ok {
			return
		}
		req.ImageURL = url
		req.Description = c.PostForm("description")
		req.SecondaryReferenceType = model.SecondaryReferenceType(c.PostForm("secondary_reference_type"))
	} else {
		if !requireJSON(c) {
			return
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, "Invalid request body")
			return
		}
	}
	if req.ImageURL == "" && req.GCSURI == "" {
		writeBadRequest(c, "image_url, gcs_uri or file is required")
		return
	}

	img, err := s.workspace(c).References.AddImage(c.Param("ref_id"), model.ReferenceImage{
		ImageURL:               req.ImageURL,
		Description:            req.Description,
		SecondaryReferenceType: req.SecondaryReferenceType,
		GCSURI:                 req.GCSURI,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, img)
}

func readImageDataURL(c *gin.Context) (string, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		writeBadRequest(c, "file is required")
		return "", false
	}
	if fh.Size > maxReferenceImageBytes {
		writeError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Reference image is too large", false, nil)
		return "", false
	}
	f, err := fh.Open()
	if err != nil {
		writeBadRequest(c, "Could not read file")
		return "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReferenceImageBytes+1))
	if err != nil || len(data) == 0 {
		writeBadRequest(c, "Could not read file")
		return "", false
	}
	if detected := mimetype.Detect(data); !strings.HasPrefix(detected.String(), "image/") {
		writeError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE_TYPE", "Reference must be an image, got "+detected.String(), false, nil)
		return "", false
	}
	return reference.DataURL(data), true
}

func (s *Server) patchDraftImage(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var patch reference.ImagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeBadRequest(c, "Invalid request body")
		return
	}
	img, err := s.workspace(c).References.UpdateImage(c.Param("ref_id"), c.Param("image_id"), patch)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, img)
}

func (s *Server) deleteDraftImage(c *gin.Context) {
	refs := s.workspace(c).References
	if err := refs.RemoveImage(c.Param("ref_id"), c.Param("image_id")); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, refs.Drafts())
}

func (s *Server) saveDraft(c *gin.Context) {
	saved := s.workspace(c).References.SaveDraft()
	writeData(c, http.StatusOK, gin.H{"saved": saved})
}

func (s *Server) listReferences(c *gin.Context) {
	writeData(c, http.StatusOK, buildReferencesView(s.workspace(c)))
}

func (s *Server) deleteReference(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("reference_id"))
	if err != nil || id < 1 {
		writeBadRequest(c, "reference_id must be a positive integer")
		return
	}
	refs := s.workspace(c).References
	if !refs.RemoveSaved(id) {
		writeError(c, http.StatusNotFound, "REFERENCE_NOT_FOUND", "Reference not found", false, nil)
		return
	}
	writeData(c, http.StatusOK, gin.H{"saved": refs.Saved()})
}

func (s *Server) clearReferences(c *gin.Context) {
	refs := s.workspace(c).References
	refs.ClearSaved()
	writeData(c, http.StatusOK, gin.H{"saved": refs.Saved()})
}

// uploadReferences pushes pending saved images to storage ahead of a
// generation. A partial failure still returns the merged set.
func (s *Server) uploadReferences(c *gin.Context) {
	refs := s.workspace(c).References
	uploaded, err := refs.UploadSaved(c.Request.Context())
	if err != nil {
		if errors.Is(err, reference.ErrUploadIncomplete) {
			writeError(c, http.StatusBadGateway, "UPLOAD_INCOMPLETE", err.Error(), true, map[string]any{
				"saved": uploaded,
			})
			return
		}
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"saved":  uploaded,
		"upload": refs.UploadState(),
	})
}
