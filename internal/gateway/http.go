package gateway

import (
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/easyconvert/internal/store"
)

// UploadHandler はファイルを受け取り、pending 状態で永続化するハンドラーを返します。
// 応答の id は以後のステータス照会・ダウンロードで使用します。
func UploadHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "ファイルが指定されていません。",
			})
			return
		}

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ファイルの読み取りに失敗しました。",
			})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ファイルの読み取りに失敗しました。",
			})
			return
		}

		contentType := fileHeader.Header.Get("Content-Type")
		if contentType == "" {
			contentType = mimetype.Detect(data).String()
		}

		id := uuid.NewString()
		if err := st.CreateFile(c.Request.Context(), id, data, contentType); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "STORAGE_ERROR",
				"message": "ファイルの保存に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":     id,
			"status": string(store.StatusPending),
		})
	}
}
