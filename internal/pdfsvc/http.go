package pdfsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/easyconvert/internal/archive"
	"github.com/yourusername/easyconvert/internal/store"
)

// Scheduler はラスタライズジョブを非同期キューに投入するためのインターフェースです。
type Scheduler interface {
	Schedule(ctx context.Context, fileID string, dpi int) error
}

// ConvertAsyncHandler は POST /convert-pdf-async のハンドラーを返します。
// PDFを FileStore に pending で保存し、ジョブを投入してタスクIDを返します。
// 変換そのものはワーカーが行い、このハンドラーは完了を待ちません。
func ConvertAsyncHandler(st *store.Store, scheduler Scheduler, defaultDPI int) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}

		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".pdf") {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "PDFファイルのみアップロードできます。",
			})
			return
		}

		dpi, err := parseDPI(c.Query("dpi"), defaultDPI)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		content, contentType, err := readUpload(fileHeader)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if !mimetype.Detect(content).Is("application/pdf") {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "ファイルの内容がPDFではありません。",
			})
			return
		}

		fileID := uuid.NewString()
		if err := st.CreateFile(c.Request.Context(), fileID, content, contentType); err != nil {
			respondWithError(c, err)
			return
		}

		if err := scheduler.Schedule(c.Request.Context(), fileID, dpi); err != nil {
			// 投入に失敗したジョブ行は残さない
			if cleanupErr := st.DeleteJob(c.Request.Context(), fileID); cleanupErr != nil {
				err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
			}
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task_id": fileID})
	}
}

// StatusHandler は GET /status/:task_id のハンドラーを返します。
func StatusHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")

		status, err := st.GetStatus(c.Request.Context(), taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "TASK_NOT_FOUND",
					"message": "指定されたタスクは存在しません。",
				})
				return
			}
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

// DownloadHandler は GET /download-images/:task_id のハンドラーを返します。
// completed なジョブの成果物をZIPにまとめて配信し、配信後に行と成果物を削除します。
func DownloadHandler(st *store.Store, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")
		ctx := c.Request.Context()

		status, err := st.GetStatus(ctx, taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "TASK_NOT_FOUND",
					"message": "指定されたタスクは存在しません。",
				})
				return
			}
			respondWithError(c, err)
			return
		}

		if status == store.StatusFailed {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "CONVERSION_FAILED",
				"message": "変換処理に失敗しました。詳細はワーカーのログを確認してください。",
			})
			return
		}

		if status != store.StatusCompleted {
			c.JSON(http.StatusOK, gin.H{
				"status":  status,
				"message": "画像はまだ準備できていません。後ほど再度確認してください。",
			})
			return
		}

		artifacts, err := st.ListArtifacts(ctx, taskID)
		if err != nil {
			respondWithError(c, err)
			return
		}

		// ZIPはメモリ上で完全に組み立ててから返す。
		// 配信とストレージ読み出しが重ならないため、直後の削除が安全になる。
		zipData, err := archive.BuildZip(artifacts)
		if err != nil {
			if errors.Is(err, archive.ErrNoArtifacts) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "NO_ARTIFACTS",
					"message": "このタスクの画像が見つかりませんでした。",
				})
				return
			}
			respondWithError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=images_%s.zip", taskID))
		c.Data(http.StatusOK, "application/zip", zipData)

		// レスポンスをトランスポートへ渡し終えてからのクリーンアップ。
		// ベストエフォートであり、ここに到達する前にプロセスが落ちれば
		// completed な行が残る（回収スイープは持たない）。
		if err := st.DeleteJob(context.Background(), taskID); err != nil && logger != nil {
			logger.Printf("failed to clean up job %s after download: %v", taskID, err)
		}
	}
}

// MergeHandler は POST /merge のハンドラーを返します。
func MergeHandler(ops Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でPDFファイルを送信してください。",
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
				"message": "アップロードされたPDFファイルが見つかりません。",
			})
			return
		}

		result, err := ops.Merge(c.Request.Context(), files)
		if err != nil {
			respondWithError(c, err)
			return
		}
		streamOpResult(c, result)
	}
}

// SplitHandler は POST /split のハンドラーを返します。
func SplitHandler(ops Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		result, err := ops.Split(c.Request.Context(), file, c.PostForm("ranges"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		streamOpResult(c, result)
	}
}

// PageNumbersHandler は POST /add-page-numbers のハンドラーを返します。
func PageNumbersHandler(ops Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		result, err := ops.AddPageNumbers(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}
		streamOpResult(c, result)
	}
}

func parseDPI(raw string, defaultDPI int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultDPI, nil
	}
	dpi, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("dpi は整数で指定してください。")
	}
	if dpi < 72 || dpi > 600 {
		return 0, errors.New("dpi は 72〜600 の範囲で指定してください。")
	}
	return dpi, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, string, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(content).String()
	}
	return content, contentType, nil
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("PDFファイルを選択してください。")
	}
	if file := form.File["file"]; len(file) > 0 {
		return file[0], nil
	}
	if files := form.File["files"]; len(files) > 0 {
		return files[0], nil
	}
	return nil, errors.New("PDFファイルを選択してください。")
}

func streamOpResult(c *gin.Context, result *OpResult) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Data)
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
