// Package imagesvc は画像サービスのHTTPハンドラーと画像変換処理を提供します。
// 変換はすべて同期のバイト列入出力であり、ジョブパイプラインは経由しません。
package imagesvc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	// 入力フォーマットのデコーダー登録
	_ "image/gif"
	_ "golang.org/x/image/webp"
)

// EditOptions は画像編集のパラメータです。各係数は 1.0 が無変更を表します。
type EditOptions struct {
	Brightness float64
	Contrast   float64
	Sharpness  float64
	Grayscale  bool
	Rotate     int
}

// ConvertFormat は画像のフォーマットを変換し、バイト列とメディアタイプを返します。
func ConvertFormat(imageBytes []byte, targetFormat string) ([]byte, string, error) {
	format := strings.ToLower(strings.TrimSpace(targetFormat))
	if format == "jpg" {
		format = "jpeg"
	}
	switch format {
	case "png", "jpeg":
	case "webp":
		return nil, "", newError("INVALID_INPUT", "WEBPへの出力は未対応です。PNGまたはJPEGを指定してください。", nil)
	default:
		return nil, "", newError("INVALID_INPUT", fmt.Sprintf("未対応の出力フォーマットです: %s", targetFormat), nil)
	}

	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, "", newError("DECODE_FAILED", "画像として読み込めませんでした。", err)
	}

	return encodeImage(img, format)
}

// Edit は明るさ・コントラスト・シャープネス・グレースケール・回転を適用します。
// 出力フォーマットは入力と同じです（WEBP入力はPNGで返します）。
func Edit(imageBytes []byte, opts EditOptions) ([]byte, string, error) {
	img, srcFormat, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, "", newError("DECODE_FAILED", "画像として読み込めませんでした。", err)
	}

	result := imaging.Clone(img)

	if opts.Grayscale {
		result = imaging.Grayscale(result)
	}
	if opts.Brightness != 1.0 {
		result = imaging.AdjustBrightness(result, (opts.Brightness-1.0)*100)
	}
	if opts.Contrast != 1.0 {
		result = imaging.AdjustContrast(result, (opts.Contrast-1.0)*100)
	}
	if opts.Sharpness > 1.0 {
		result = imaging.Sharpen(result, opts.Sharpness-1.0)
	} else if opts.Sharpness < 1.0 && opts.Sharpness >= 0 {
		result = imaging.Blur(result, 1.0-opts.Sharpness)
	}
	if opts.Rotate != 0 {
		// 反時計回り、キャンバスは回転後のサイズに拡張される
		result = imaging.Rotate(result, float64(opts.Rotate), color.Transparent)
	}

	return encodeImage(result, outputFormat(srcFormat))
}

// CropPercent は四辺からの割合指定で画像を切り抜きます。
func CropPercent(imageBytes []byte, left, right, top, bottom float64) ([]byte, string, error) {
	for _, pct := range []float64{left, right, top, bottom} {
		if pct < 0 || pct > 100 {
			return nil, "", newError("INVALID_INPUT", "切り抜き割合は 0〜100 で指定してください。", nil)
		}
	}
	if left+right >= 100 || top+bottom >= 100 {
		return nil, "", newError("INVALID_INPUT", "切り抜き後の領域が残りません。割合を見直してください。", nil)
	}

	img, srcFormat, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, "", newError("DECODE_FAILED", "画像として読み込めませんでした。", err)
	}

	bounds := img.Bounds()
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(width*left/100),
		bounds.Min.Y+int(height*top/100),
		bounds.Min.X+int(width*(1-right/100)),
		bounds.Min.Y+int(height*(1-bottom/100)),
	)

	result := imaging.Crop(img, rect)
	return encodeImage(result, outputFormat(srcFormat))
}

// ImagesToPDF は1枚以上の画像を1つのPDFへまとめます。
func ImagesToPDF(images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, newError("INVALID_INPUT", "画像ファイルを1つ以上選択してください。", nil)
	}

	workDir, err := os.MkdirTemp("", "easyconvert-img2pdf-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	paths := make([]string, 0, len(images))
	for i, data := range images {
		// pdfcpu のインポートはファイル入力のため一旦書き出す
		if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
			return nil, newError("DECODE_FAILED", fmt.Sprintf("%d枚目を画像として読み込めませんでした。", i+1), err)
		}
		path := filepath.Join(workDir, fmt.Sprintf("img-%03d", i+1))
		if err := os.WriteFile(path, data, 0o640); err != nil {
			return nil, fmt.Errorf("failed to write image %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}

	outputPath := filepath.Join(workDir, "images_to_pdf.pdf")
	if err := pdfapi.ImportImagesFile(paths, outputPath, nil, nil); err != nil {
		return nil, newError("CONVERSION_FAILED", "画像からPDFへの変換に失敗しました。", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated pdf: %w", err)
	}
	return data, nil
}

// outputFormat は入力フォーマットに対する出力フォーマットを決めます。
// エンコーダーを持たないフォーマットはPNGへ寄せます。
func outputFormat(srcFormat string) string {
	switch srcFormat {
	case "jpeg":
		return "jpeg"
	default:
		return "png"
	}
}

func encodeImage(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		// JPEGは透過を持てないため白背景へ合成する
		flattened := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
		composed := imaging.Overlay(flattened, img, image.Pt(0, 0), 1.0)
		if err := jpeg.Encode(&buf, composed, &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		return nil, "", newError("INVALID_INPUT", fmt.Sprintf("未対応の出力フォーマットです: %s", format), nil)
	}
}
