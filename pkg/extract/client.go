// Package extract 提供文档内容抽取能力, 把原始文件转换为按页组织的文本。
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"zhiku-rag/internal/config"
	"zhiku-rag/internal/model"
)

// Extractor 从原始文件中抽取按页组织的文本。
type Extractor interface {
	Extract(ctx context.Context, fileReader io.Reader, fileName string) (*model.Document, error)
}

// NewExtractor 根据配置的 provider 创建抽取器, 不支持的提供方直接报错。
func NewExtractor(cfg config.ExtractorConfig) (Extractor, error) {
	switch cfg.Provider {
	case "tika":
		return &tikaExtractor{serverURL: cfg.ServerURL}, nil
	case "plain":
		return &plainExtractor{}, nil
	default:
		return nil, fmt.Errorf("不支持的文档抽取提供方: %q", cfg.Provider)
	}
}

// tikaExtractor 调用 Apache Tika 服务器抽取文本。
// Tika 的纯文本输出以换页符分隔 PDF 页, 据此还原页结构。
type tikaExtractor struct {
	serverURL string
}

func (e *tikaExtractor) Extract(ctx context.Context, fileReader io.Reader, fileName string) (*model.Document, error) {
	contentType := detectMimeType(fileName)

	req, err := http.NewRequestWithContext(ctx, "PUT", e.serverURL+"/tika", fileReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("读取 Tika 响应失败: %w", err)
	}

	return &model.Document{
		Name:  fileName,
		Pages: splitPages(buf.String()),
	}, nil
}

// plainExtractor 直接读取纯文本文件, 适用于 .txt/.md 等无需解析的格式。
type plainExtractor struct{}

func (e *plainExtractor) Extract(ctx context.Context, fileReader io.Reader, fileName string) (*model.Document, error) {
	data, err := io.ReadAll(fileReader)
	if err != nil {
		return nil, fmt.Errorf("读取文件 %s 失败: %w", fileName, err)
	}
	return &model.Document{
		Name:  fileName,
		Pages: splitPages(string(data)),
	}, nil
}

// splitPages 按换页符切页并去除每页首尾空白, 纯空白页保留占位以维持页码。
func splitPages(text string) []string {
	parts := strings.Split(text, "\f")
	pages := make([]string, 0, len(parts))
	for _, p := range parts {
		pages = append(pages, strings.TrimSpace(p))
	}
	// 文件尾部的换页符会产生一个空尾页, 丢弃。
	for len(pages) > 0 && pages[len(pages)-1] == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		// fallback 默认
		return "application/octet-stream"
	}
	return mimeType
}
