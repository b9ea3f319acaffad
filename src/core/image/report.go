package image

import (
	"math"
	"path/filepath"
	"strings"
)

// 大小变化方向
const (
	DirectionSmaller = "smaller"
	DirectionLarger  = "larger"
)

// Savings 大小变化统计
type Savings struct {
	Percent   int    `json:"percent"`
	Direction string `json:"direction"`
}

// ComputeSavings 计算转换前后的大小变化百分比
// 相等时报告为0% larger
func ComputeSavings(originalBytes, newBytes int64) Savings {
	if originalBytes <= 0 {
		return Savings{Percent: 0, Direction: DirectionLarger}
	}

	if newBytes < originalBytes {
		percent := math.Round(float64(originalBytes-newBytes) / float64(originalBytes) * 100)
		return Savings{Percent: int(percent), Direction: DirectionSmaller}
	}

	percent := math.Round(float64(newBytes-originalBytes) / float64(originalBytes) * 100)
	return Savings{Percent: int(percent), Direction: DirectionLarger}
}

// DeriveFilename 生成建议的下载文件名
// 去掉原文件名的最后一个扩展名，追加_converted.<ext>，<ext>取目标MIME的子类型token
func DeriveFilename(originalName, targetMIME string) string {
	ext := FormatFromMIME(targetMIME)

	base := originalName
	if dotExt := filepath.Ext(originalName); dotExt != "" {
		base = strings.TrimSuffix(originalName, dotExt)
	}
	if base == "" {
		base = "image"
	}

	return base + "_converted." + ext
}
