// Package gateway は外部公開のHTTPエントリーポイントを提供します。
// アップロードを FileStore へ書き込むほか、その他のリクエストを
// バックエンドサービスへ透過的に転送します。
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// relayKind はバックエンド応答の中継方法を表します。
// Content-Type から一度だけ判定し、以後は分岐しません。
type relayKind int

const (
	relayJSON relayKind = iota
	relayBinary
	relayRaw
)

// backendResponse は中継方法の判定が済んだバックエンド応答です。
type backendResponse struct {
	status      int
	kind        relayKind
	jsonValue   any
	body        []byte
	contentType string
	disposition string
}

// Proxy は名前付きバックエンドへのリクエスト転送を担います。
type Proxy struct {
	client   *http.Client
	backends map[string]string
	logger   *log.Logger
}

// NewProxy は Proxy を作成します。backends は名前→ベースURLの対応表です。
func NewProxy(backends map[string]string, logger *log.Logger) *Proxy {
	return &Proxy{
		client:   &http.Client{Timeout: 120 * time.Second},
		backends: backends,
		logger:   logger,
	}
}

// Handler は指定バックエンドへの転送ハンドラーを返します。
// メソッド・クエリ・ヘッダーを維持したまま転送し、Host と Content-Length は
// 送信側クライアントに委ねます。multipart ボディは一度展開して新しい境界文字列で
// 再構築します（元の境界は読み取り後に再利用できないため）。
func (p *Proxy) Handler(backendName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		base, ok := p.backends[backendName]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "UNKNOWN_BACKEND",
				"message": fmt.Sprintf("バックエンド %s は定義されていません。", backendName),
			})
			return
		}

		outReq, err := p.buildOutboundRequest(c, base)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リクエストの転送準備に失敗しました。",
			})
			return
		}

		resp, err := p.client.Do(outReq)
		if err != nil {
			// 到達不能は一律500で返し、リトライはしない
			if p.logger != nil {
				p.logger.Printf("backend %s unreachable: %v", backendName, err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "UPSTREAM_UNREACHABLE",
				"message": fmt.Sprintf("%s サービスへの接続に失敗しました。", backendName),
			})
			return
		}
		defer resp.Body.Close()

		relayed, err := classifyResponse(resp)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "バックエンド応答の読み取りに失敗しました。",
			})
			return
		}
		renderResponse(c, relayed)
	}
}

func (p *Proxy) buildOutboundRequest(c *gin.Context, base string) (*http.Request, error) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	targetURL := strings.TrimRight(base, "/") + "/" + path
	if raw := c.Request.URL.RawQuery; raw != "" {
		targetURL += "?" + raw
	}

	var body io.Reader = c.Request.Body
	rebuiltContentType := ""

	if strings.Contains(c.ContentType(), "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, fmt.Errorf("failed to parse multipart body: %w", err)
		}
		defer form.RemoveAll()

		rebuilt, contentType, err := rebuildMultipart(form)
		if err != nil {
			return nil, err
		}
		body = rebuilt
		rebuiltContentType = contentType
	}

	outReq, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, body)
	if err != nil {
		return nil, err
	}

	for key, values := range c.Request.Header {
		switch textproto.CanonicalMIMEHeaderKey(key) {
		case "Host", "Content-Length":
			// Host は送信側クライアントが設定し、Content-Length は再構築後の
			// ボディから再計算させる
			continue
		case "Content-Type":
			if rebuiltContentType != "" {
				continue
			}
		}
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	if rebuiltContentType != "" {
		outReq.Header.Set("Content-Type", rebuiltContentType)
	}
	return outReq, nil
}

// rebuildMultipart は展開済みのフォームを新しい境界文字列で組み直します。
// スカラーフィールドの値、ファイルのファイル名・Content-Type・内容をそのまま保ちます。
func rebuildMultipart(form *multipart.Form) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	for field, values := range form.Value {
		for _, value := range values {
			if err := writer.WriteField(field, value); err != nil {
				return nil, "", fmt.Errorf("failed to rewrite field %s: %w", field, err)
			}
		}
	}

	for field, headers := range form.File {
		for _, fh := range headers {
			partHeader := textproto.MIMEHeader{}
			partHeader.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name=%q; filename=%q`, field, fh.Filename))
			if ct := fh.Header.Get("Content-Type"); ct != "" {
				partHeader.Set("Content-Type", ct)
			}

			part, err := writer.CreatePart(partHeader)
			if err != nil {
				return nil, "", fmt.Errorf("failed to rewrite file part %s: %w", field, err)
			}

			src, err := fh.Open()
			if err != nil {
				return nil, "", fmt.Errorf("failed to open file part %s: %w", field, err)
			}
			if _, err := io.Copy(part, src); err != nil {
				src.Close()
				return nil, "", fmt.Errorf("failed to copy file part %s: %w", field, err)
			}
			src.Close()
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

// classifyResponse はバックエンド応答を読み切り、中継方法を一度だけ決定します。
func classifyResponse(resp *http.Response) (*backendResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	relayed := &backendResponse{
		status:      resp.StatusCode,
		body:        body,
		contentType: contentType,
		disposition: resp.Header.Get("Content-Disposition"),
	}

	switch {
	case isBinaryDeliverable(contentType):
		relayed.kind = relayBinary
	case strings.Contains(contentType, "application/json"):
		var value any
		if err := json.Unmarshal(body, &value); err != nil {
			// JSON宣言だが壊れている場合はそのまま通す
			relayed.kind = relayRaw
			break
		}
		relayed.kind = relayJSON
		relayed.jsonValue = value
	default:
		relayed.kind = relayRaw
	}
	return relayed, nil
}

func isBinaryDeliverable(contentType string) bool {
	return strings.Contains(contentType, "application/pdf") ||
		strings.Contains(contentType, "application/zip") ||
		strings.HasPrefix(contentType, "image/")
}

func renderResponse(c *gin.Context, relayed *backendResponse) {
	// ステータス400以上はバックエンドのエラーをそのままの状態コードで再掲する
	switch relayed.kind {
	case relayJSON:
		c.JSON(relayed.status, relayed.jsonValue)
	case relayBinary:
		if relayed.disposition != "" {
			c.Header("Content-Disposition", relayed.disposition)
		}
		c.Data(relayed.status, relayed.contentType, relayed.body)
	default:
		contentType := relayed.contentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(relayed.status, contentType, relayed.body)
	}
}
