package model

import "time"

// LibraryType 选品库类型
type LibraryType string

const (
	LibraryPending   LibraryType = "pending"   // 待选（母库）
	LibraryCompleted LibraryType = "completed" // 已完成选品
)

// Valid 是否为合法类型
func (t LibraryType) Valid() bool {
	return t == LibraryPending || t == LibraryCompleted
}

// Library 选品库记录
type Library struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Type              LibraryType `json:"type"`
	Timestamp         int64       `json:"timestamp"` // 毫秒
	ExcelURL          string      `json:"excelUrl"`
	Products          []*Product  `json:"products"`
	OriginalLibraryID string      `json:"originalLibraryId,omitempty"`
	CreatedBy         string      `json:"createdBy,omitempty"`
}

// NowMillis 当前毫秒时间戳
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ImportLog 导入记录
type ImportLog struct {
	ID           int64     `json:"id" db:"id"`
	LibraryID    string    `json:"libraryId" db:"library_id"`
	Filename     string    `json:"filename" db:"filename"`
	FileSize     int64     `json:"fileSize" db:"file_size"`
	FileHash     string    `json:"fileHash" db:"file_hash"`
	Status       string    `json:"status" db:"status"`
	ProductCount int       `json:"productCount" db:"product_count"`
	ImageCount   int       `json:"imageCount" db:"image_count"`
	FailedImages int       `json:"failedImages" db:"failed_images"`
	ErrorMessage string    `json:"errorMessage" db:"error_message"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// 导入状态
const (
	ImportProcessing = "processing"
	ImportSuccess    = "success"
	ImportFailed     = "failed"
)
