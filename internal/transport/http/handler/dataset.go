package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SkywardAI/kirin/internal/app"
	"github.com/SkywardAI/kirin/internal/pkg/pdfextract"
	"github.com/SkywardAI/kirin/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type DatasetHandler struct {
	datasetService *app.DatasetService
}

type IngestDatasetRequest struct {
	Name     string `json:"name" binding:"required,max=256"`
	Content  string `json:"content" binding:"required"`
	Recreate bool   `json:"recreate"`
}

func NewDatasetHandler(datasetService *app.DatasetService) *DatasetHandler {
	return &DatasetHandler{datasetService: datasetService}
}

func (h *DatasetHandler) Ingest(c *gin.Context) {
	accountID, ok := getAccountIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req IngestDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.datasetService.Ingest(c.Request.Context(), app.IngestInput{
		AccountID:   &accountID,
		DatasetName: req.Name,
		Content:     req.Content,
		Recreate:    req.Recreate,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrDatasetEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeDatasetEmpty, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed")
		}
		return
	}

	response.OK(c, result)
}

// UploadPDF accepts a multipart form with "file" (PDF) and optional
// "name", extracts the text and ingests it as a dataset.
func (h *DatasetHandler) UploadPDF(c *gin.Context) {
	accountID, ok := getAccountIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF: "+err.Error())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "PDF contains no extractable text")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
		if name == "" {
			name = "untitled"
		}
	}

	result, err := h.datasetService.Ingest(c.Request.Context(), app.IngestInput{
		AccountID:   &accountID,
		DatasetName: name,
		Content:     text,
		Recreate:    c.PostForm("recreate") == "true",
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrDatasetEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeDatasetEmpty, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed")
		}
		return
	}

	response.OK(c, result)
}

func (h *DatasetHandler) ListDatasets(c *gin.Context) {
	accountID, ok := getAccountIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	datasets, err := h.datasetService.ListDatasets(accountID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list datasets failed")
		return
	}

	response.OK(c, datasets)
}
