// Package chunker 将抽取出的文档页文本切分为带定位信息的切块。
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"zhiku-rag/internal/model"
)

// 支持的切分模式。
const (
	ModeWindow    = "window"
	ModeParagraph = "paragraph"
)

// Chunker 按页切分文档, 产出的每个切块都携带定位信息与确定性标识。
type Chunker interface {
	Chunk(doc *model.Document) ([]model.DocumentChunk, error)
}

type chunker struct {
	mode         string
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建切分器。chunk_size 与 chunk_overlap 的合法性只在这里校验一次,
// 之后的每次切分不再重复检查。
func NewChunker(mode string, chunkSize, chunkOverlap int) (Chunker, error) {
	switch mode {
	case ModeWindow, ModeParagraph:
	default:
		return nil, fmt.Errorf("未知的切分模式: %q", mode)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size 必须为正数, 当前为 %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunk_overlap 不能为负数, 当前为 %d", chunkOverlap)
	}
	if chunkSize <= chunkOverlap {
		return nil, fmt.Errorf("chunk_size(%d) 必须大于 chunk_overlap(%d)", chunkSize, chunkOverlap)
	}
	return &chunker{mode: mode, chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Chunk 逐页切分文档, 页码从 1 开始计。不含任何页面的文档视为坏档, 直接报错。
// 空白页不产出切块, 但不影响后续页的页码。
func (c *chunker) Chunk(doc *model.Document) ([]model.DocumentChunk, error) {
	if doc == nil {
		return nil, errors.New("文档不能为空")
	}
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("文档 %s(%s) 不包含任何页面, 无法切分", doc.Name, doc.ID)
	}

	var chunks []model.DocumentChunk
	for i, page := range doc.Pages {
		pageNumber := i + 1
		var (
			pageChunks []model.DocumentChunk
			err        error
		)
		if c.mode == ModeParagraph {
			pageChunks, err = c.chunkPageByParagraph(doc, page, pageNumber)
		} else {
			pageChunks, err = c.chunkPageByWindow(doc, page, pageNumber)
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, pageChunks...)
	}
	return chunks, nil
}

// chunkPageByWindow 以固定窗口在页内滑动, 步长为 chunk_size-chunk_overlap,
// 相邻切块重叠 chunk_overlap 个字符。窗口一旦覆盖到页尾即停止,
// 不会产出完全落在上一块重叠区内的尾块。偏移量按字符计:
// begin_offset 为窗口起点, end_offset 恒为起点加 chunk_size,
// 最后一块取不满窗口时也不截断该值; 切块文本本身以页长为界。
func (c *chunker) chunkPageByWindow(doc *model.Document, page string, pageNumber int) ([]model.DocumentChunk, error) {
	runes := []rune(page)
	step := c.chunkSize - c.chunkOverlap

	var chunks []model.DocumentChunk
	for i := 0; i < len(runes); i += step {
		textEnd := i + c.chunkSize
		if textEnd > len(runes) {
			textEnd = len(runes)
		}
		chunkID := fmt.Sprintf("%s_%s_%s_%d_%d", doc.TenantID, doc.Name, doc.ID, pageNumber, i)
		chunk, err := model.NewDocumentChunk(chunkID, doc.TenantID, doc.ID, doc.Name,
			string(runes[i:textEnd]), pageNumber, i, i+c.chunkSize)
		if err != nil {
			return nil, fmt.Errorf("构造切块 %s 失败: %w", chunkID, err)
		}
		chunks = append(chunks, chunk)
		if i+c.chunkSize >= len(runes) {
			break
		}
	}
	return chunks, nil
}

// chunkPageByParagraph 以连续空行为界切段, 每个非空段落产出一个切块。
// 切块标识末段使用段落在页内的序号, 序号对空段也计数, 因而删除空行
// 不会改变其余段落的标识。偏移量在段落内计量: begin_offset 恒为 0,
// end_offset 为去除首尾空白后的段落字符数。
func (c *chunker) chunkPageByParagraph(doc *model.Document, page string, pageNumber int) ([]model.DocumentChunk, error) {
	paragraphs := strings.Split(page, "\n\n")

	var chunks []model.DocumentChunk
	for j, paragraph := range paragraphs {
		text := strings.TrimSpace(paragraph)
		if text == "" {
			continue
		}
		chunkID := fmt.Sprintf("%s_%s_%s_%d_%d", doc.TenantID, doc.Name, doc.ID, pageNumber, j)
		chunk, err := model.NewDocumentChunk(chunkID, doc.TenantID, doc.ID, doc.Name,
			text, pageNumber, 0, utf8.RuneCountInString(text))
		if err != nil {
			return nil, fmt.Errorf("构造切块 %s 失败: %w", chunkID, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
