package web

import (
	"encoding/json"
	"fmt"

	"pixport-server-go/src/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store 偏好与历史记录的数据库访问
type Store struct {
	db *gorm.DB
}

// NewStore 创建存储并迁移表结构
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.Preference{}, &models.ConversionRecord{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return &Store{db: db}, nil
}

// GetTheme 读取主题偏好，没有记录时返回light
func (s *Store) GetTheme() (string, error) {
	var pref models.Preference
	err := s.db.Where("key = ?", models.PreferenceKeyTheme).First(&pref).Error
	if err == gorm.ErrRecordNotFound {
		return models.ThemeLight, nil
	}
	if err != nil {
		return "", err
	}
	return pref.Value, nil
}

// SetTheme 保存主题偏好
func (s *Store) SetTheme(theme string) error {
	var pref models.Preference
	err := s.db.Where("key = ?", models.PreferenceKeyTheme).First(&pref).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(&models.Preference{
			Key:   models.PreferenceKeyTheme,
			Value: theme,
		}).Error
	}
	if err != nil {
		return err
	}
	pref.Value = theme
	return s.db.Save(&pref).Error
}

// RecordConversion 保存一条转换历史记录
func (s *Store) RecordConversion(record *models.ConversionRecord) error {
	return s.db.Create(record).Error
}

// RecentConversions 按会话查询最近的转换记录
func (s *Store) RecentConversions(sessionID string, limit int) ([]models.ConversionRecord, error) {
	var records []models.ConversionRecord
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// DimensionsJSON 把宽高打包成JSON列的值
func DimensionsJSON(width, height int) datatypes.JSON {
	data, _ := json.Marshal(map[string]int{"width": width, "height": height})
	return datatypes.JSON(data)
}
