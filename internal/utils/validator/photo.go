package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// PhotoValidator checks a downloaded photo before it is sent to extraction.
type PhotoValidator struct {
	logger logger.Logger
	config *PhotoConfig
}

// PhotoConfig bounds acceptable photos.
type PhotoConfig struct {
	MaxFileSize  int64               // bytes
	AllowedTypes map[string][]string // extension -> MIME types
	MinDimension int                 // px, shortest side
	MaxDimension int                 // px, longest side
}

// PhotoResult describes a checked photo.
type PhotoResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError is one failed photo check.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo describes the checked file.
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Summary joins the error messages.
func (r *PhotoResult) Summary() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

func NewPhotoValidator(log logger.Logger, config *PhotoConfig) *PhotoValidator {
	if config == nil {
		config = &PhotoConfig{
			MaxFileSize: 20 * 1024 * 1024,
			AllowedTypes: map[string][]string{
				".jpg":  {"image/jpeg"},
				".jpeg": {"image/jpeg"},
				".png":  {"image/png"},
			},
			MinDimension: 200,
			MaxDimension: 10000,
		}
	}
	return &PhotoValidator{logger: log.Named("photo-validator"), config: config}
}

// ValidateFile checks size, extension, detected MIME type and pixel dimensions.
func (v *PhotoValidator) ValidateFile(path string) (*PhotoResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat photo: %w", err)
	}
	result := &PhotoResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Extension: strings.ToLower(filepath.Ext(path)),
		},
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	result.FileInfo.Hash = hex.EncodeToString(hash.Sum(nil))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to reset file pointer: %w", err)
	}
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	result.FileInfo.MimeType = http.DetectContentType(head[:n])

	result.add(v.checkBasic(result.FileInfo)...)
	result.add(v.checkMimeType(result.FileInfo)...)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to reset file pointer: %w", err)
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		result.add(ValidationError{Code: "UNREADABLE_IMAGE", Message: "image header cannot be decoded", Field: "content"})
	} else {
		result.FileInfo.Width, result.FileInfo.Height = cfg.Width, cfg.Height
		result.add(v.checkDimensions(cfg.Width, cfg.Height)...)
	}

	if !result.IsValid {
		v.logger.Warn("photo rejected",
			logger.String("file", result.FileInfo.Filename),
			logger.String("reason", result.Summary()),
		)
	}
	return result, nil
}

func (r *PhotoResult) add(errs ...ValidationError) {
	if len(errs) == 0 {
		return
	}
	r.IsValid = false
	r.Errors = append(r.Errors, errs...)
}

func (v *PhotoValidator) checkBasic(info FileInfo) []ValidationError {
	var errs []ValidationError
	if info.Size == 0 {
		errs = append(errs, ValidationError{Code: "EMPTY_FILE", Message: "file is empty", Field: "size"})
	}
	if info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("file size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	return errs
}

// checkMimeType trusts the sniffed content when the extension is absent; Telegram file paths often lack one.
func (v *PhotoValidator) checkMimeType(info FileInfo) []ValidationError {
	if info.Extension == "" {
		for _, mimes := range v.config.AllowedTypes {
			for _, m := range mimes {
				if m == info.MimeType {
					return nil
				}
			}
		}
		return []ValidationError{{
			Code:    "INVALID_MIME_TYPE",
			Message: fmt.Sprintf("content type %s is not an accepted photo", info.MimeType),
			Field:   "mimeType",
		}}
	}

	allowed, ok := v.config.AllowedTypes[info.Extension]
	if !ok {
		return []ValidationError{{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("file type %s is not allowed", info.Extension),
			Field:   "extension",
		}}
	}
	for _, m := range allowed {
		if m == info.MimeType {
			return nil
		}
	}
	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("invalid MIME type %s for extension %s", info.MimeType, info.Extension),
		Field:   "mimeType",
	}}
}

func (v *PhotoValidator) checkDimensions(w, h int) []ValidationError {
	short, long := min(w, h), max(w, h)
	var errs []ValidationError
	if v.config.MinDimension > 0 && short < v.config.MinDimension {
		errs = append(errs, ValidationError{
			Code:    "IMAGE_TOO_SMALL",
			Message: fmt.Sprintf("image %dx%d is smaller than %dpx", w, h, v.config.MinDimension),
			Field:   "dimensions",
		})
	}
	if v.config.MaxDimension > 0 && long > v.config.MaxDimension {
		errs = append(errs, ValidationError{
			Code:    "IMAGE_TOO_LARGE",
			Message: fmt.Sprintf("image %dx%d exceeds %dpx", w, h, v.config.MaxDimension),
			Field:   "dimensions",
		})
	}
	return errs
}
