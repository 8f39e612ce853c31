package imagesvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ChangeFormatHandler は POST /change-format のハンドラーを返します。
func ChangeFormatHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetFormat := strings.TrimSpace(c.Query("target_format"))
		if targetFormat == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "target_format を指定してください。",
			})
			return
		}

		content, _, err := readSingleUpload(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		converted, mediaType, err := ConvertFormat(content, targetFormat)
		if err != nil {
			respondWithError(c, err)
			return
		}

		ext := strings.ToLower(targetFormat)
		if ext == "jpg" {
			ext = "jpeg"
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=converted.%s", ext))
		c.Data(http.StatusOK, mediaType, converted)
	}
}

// EditImageHandler は POST /edit-image のハンドラーを返します。
func EditImageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := parseEditOptions(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		content, filename, err := readSingleUpload(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		edited, mediaType, err := Edit(content, opts)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=edited_%s", filename))
		c.Data(http.StatusOK, mediaType, edited)
	}
}

// CropImageHandler は POST /crop-image のハンドラーを返します。
func CropImageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		left, err := parsePercent(c, "left")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_INPUT", "message": err.Error()})
			return
		}
		right, err := parsePercent(c, "right")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_INPUT", "message": err.Error()})
			return
		}
		top, err := parsePercent(c, "top")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_INPUT", "message": err.Error()})
			return
		}
		bottom, err := parsePercent(c, "bottom")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_INPUT", "message": err.Error()})
			return
		}

		content, filename, err := readSingleUpload(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		cropped, mediaType, err := CropPercent(content, left, right, top, bottom)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=cropped_%s", filename))
		c.Data(http.StatusOK, mediaType, cropped)
	}
}

// ImagesToPDFHandler は POST /images-to-pdf のハンドラーを返します。
func ImagesToPDFHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data で画像ファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		files := form.File["files"]
		if len(files) == 0 {
			files = form.File["files[]"]
		}
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "画像ファイルを1つ以上選択してください。",
			})
			return
		}

		images := make([][]byte, 0, len(files))
		for _, fh := range files {
			content, err := readFileHeader(fh)
			if err != nil {
				respondWithError(c, err)
				return
			}
			images = append(images, content)
		}

		pdfData, err := ImagesToPDF(images)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Content-Disposition", "attachment; filename=images_to_pdf.pdf")
		c.Data(http.StatusOK, "application/pdf", pdfData)
	}
}

func parseEditOptions(c *gin.Context) (EditOptions, error) {
	opts := EditOptions{Brightness: 1.0, Contrast: 1.0, Sharpness: 1.0}

	var err error
	if opts.Brightness, err = parseFloat(c, "brightness", 1.0); err != nil {
		return opts, err
	}
	if opts.Contrast, err = parseFloat(c, "contrast", 1.0); err != nil {
		return opts, err
	}
	if opts.Sharpness, err = parseFloat(c, "sharpness", 1.0); err != nil {
		return opts, err
	}

	if raw := c.Query("grayscale"); raw != "" {
		opts.Grayscale, err = strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New("grayscale は true/false で指定してください。")
		}
	}
	if raw := c.Query("rotate"); raw != "" {
		opts.Rotate, err = strconv.Atoi(raw)
		if err != nil {
			return opts, errors.New("rotate は整数（度）で指定してください。")
		}
	}
	return opts, nil
}

func parseFloat(c *gin.Context, key string, defaultValue float64) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s は数値で指定してください。", key)
	}
	return value, nil
}

func parsePercent(c *gin.Context, key string) (float64, error) {
	value, err := parseFloat(c, key, 0)
	if err != nil {
		return 0, err
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("%s は 0〜100 の範囲で指定してください。", key)
	}
	return value, nil
}

func readSingleUpload(c *gin.Context) ([]byte, string, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, "", newError("INVALID_INPUT", "multipart/form-data で画像ファイルを送信してください。", err)
	}
	content, err := readFileHeader(fileHeader)
	if err != nil {
		return nil, "", err
	}
	return content, fileHeader.Filename, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return content, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusInternalServerError
		if apiErr.Code == "INVALID_INPUT" {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
