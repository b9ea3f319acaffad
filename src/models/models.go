package models

import (
	"gorm.io/datatypes"
)

// 显示偏好（key-value，目前只有theme一条）
type Preference struct {
	ID    uint   `gorm:"primaryKey"`
	Key   string `gorm:"uniqueIndex;not null"`
	Value string
}

// 主题偏好的key与取值
const (
	PreferenceKeyTheme = "theme"
	ThemeLight         = "light"
	ThemeDark          = "dark"
)

// 转换历史记录（不保存图片数据，只保存统计信息）
type ConversionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	SessionID      string `gorm:"index"`
	Filename       string         // 原始文件名
	OutputFilename string         // 建议下载文件名
	SourceFormat   string         // 源格式
	TargetFormat   string         // 目标格式
	Quality        float64        // 质量因子 [0,1]
	OriginalBytes  int64          // 原始大小
	ConvertedBytes int64          // 编码后精确大小
	EstimatedBytes int64          // base64估算大小
	SavingsPercent int            // 变化百分比
	Direction      string         // smaller / larger
	DurationMs     int64          // 转换耗时（毫秒）
	Dimensions     datatypes.JSON // {"width":..,"height":..}
	CreatedAt      int64          `gorm:"autoCreateTime:milli"`
}
