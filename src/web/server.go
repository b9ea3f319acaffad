package web

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"pixport-server-go/src/configs"
	"pixport-server-go/src/core/auth"
	img "pixport-server-go/src/core/image"
	"pixport-server-go/src/core/utils"
	"pixport-server-go/src/models"
	"pixport-server-go/src/session"
	"pixport-server-go/src/task"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ConvertService 图片转换HTTP服务
type ConvertService struct {
	config    *configs.Config
	logger    *utils.Logger
	intake    *img.Intake
	converter *img.Converter
	sessions  *session.Manager
	taskMgr   *task.TaskManager
	authToken *auth.AuthToken
	store     *Store
	hub       *EventHub
}

// convertParams 转换任务参数
type convertParams struct {
	decoded *img.DecodedImage
	request img.ConversionRequest
}

// taskOutcome 转换任务结果
type taskOutcome struct {
	result interface{}
	err    error
}

// NewConvertService 构造函数
func NewConvertService(config *configs.Config, logger *utils.Logger, db *gorm.DB) (*ConvertService, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %v", err)
	}

	hub := NewEventHub(logger)

	sessions := session.NewManager(time.Duration(config.Convert.ErrorDismissMs) * time.Millisecond)
	sessions.SetListener(hub.Publish)

	service := &ConvertService{
		config:    config,
		logger:    logger,
		intake:    img.NewIntake(&config.Upload, logger),
		converter: img.NewConverter(&config.Convert, logger),
		sessions:  sessions,
		authToken: auth.NewAuthToken(config.Server.Token),
		store:     store,
		hub:       hub,
	}

	service.taskMgr = task.NewTaskManager(task.ResourceConfig{
		MaxWorkers:     config.Convert.MaxWorkers,
		MaxTasksPerDay: config.Convert.MaxTasksPerDay,
		MaxConcurrent:  config.Convert.MaxConcurrent,
		TaskTimeout:    time.Duration(config.Convert.TaskTimeoutSec) * time.Second,
	})
	task.RegisterTaskExecutor(task.TaskTypeConvert, service.executeConvert)
	service.taskMgr.Start()

	return service, nil
}

// Start 注册所有转换相关路由
func (s *ConvertService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.POST("/upload", s.handleUpload)
	apiGroup.OPTIONS("/upload", s.handleOptions)
	apiGroup.POST("/convert", s.handleConvert)
	apiGroup.OPTIONS("/convert", s.handleOptions)
	apiGroup.GET("/convert/download", s.handleDownload)
	apiGroup.POST("/reset", s.handleReset)
	apiGroup.OPTIONS("/reset", s.handleOptions)
	apiGroup.GET("/session", s.handleSessionState)
	apiGroup.GET("/theme", s.handleGetTheme)
	apiGroup.PUT("/theme", s.handleSetTheme)
	apiGroup.OPTIONS("/theme", s.handleOptions)
	apiGroup.GET("/history", s.handleHistory)
	apiGroup.GET("/events", s.handleEvents)

	// 前端静态页面
	if s.config.Web.Enabled && s.config.Web.StaticDir != "" {
		engine.Static("/app", s.config.Web.StaticDir)
	}

	s.logger.Info("转换HTTP服务路由注册完成")
	return nil
}

// Stop 停止后台组件
func (s *ConvertService) Stop() {
	s.taskMgr.Stop()
	s.sessions.Stop()
	s.logger.Info("转换服务已停止")
}

// executeConvert 转换任务执行器，在工作者池中运行
func (s *ConvertService) executeConvert(t *task.Task) error {
	params, ok := t.Params.(*convertParams)
	if !ok {
		return fmt.Errorf("无效的转换任务参数")
	}

	result, err := s.converter.Convert(params.decoded, params.request)
	if err != nil {
		return err
	}

	t.Result = result
	return nil
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *ConvertService) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleUpload 处理上传：验证、解码、放入会话
func (s *ConvertService) handleUpload(c *gin.Context) {
	s.addCORSHeaders(c)

	// 有token就复用会话，否则新建
	sess, err := s.sessionFromRequest(c)
	if err != nil {
		sess = s.sessions.NewSession()
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		s.respondError(c, http.StatusBadRequest, ErrorKindValidation, "缺少图片文件")
		return
	}
	defer file.Close()

	declaredMIME := header.Header.Get("Content-Type")
	if declaredMIME == "" || declaredMIME == "application/octet-stream" {
		declaredMIME = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	decoded, err := s.intake.AcceptFile(c.Request.Context(), file, declaredMIME, header.Size, header.Filename)
	if err != nil {
		kind, status := classifyIntakeError(err)
		sess.ShowError(err.Error())
		s.logger.Warn("上传处理失败", map[string]interface{}{
			"session_id": sess.ID,
			"filename":   header.Filename,
			"mime":       declaredMIME,
			"error":      err.Error(),
		})
		s.respondError(c, status, kind, err.Error())
		return
	}

	sess.SetUpload(decoded)

	token, err := s.authToken.GenerateToken(sess.ID)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, ErrorKindValidation, "创建会话凭证失败")
		return
	}

	preview, err := s.converter.Preview(decoded, s.config.Convert.PreviewMaxSize)
	if err != nil {
		// 预览失败不阻断上传流程
		s.logger.Warn("生成预览失败", map[string]interface{}{
			"session_id": sess.ID,
			"error":      err.Error(),
		})
		preview = ""
	}

	s.logger.Info("上传接受成功", map[string]interface{}{
		"session_id": sess.ID,
		"filename":   header.Filename,
		"format":     decoded.Format,
		"size":       decoded.Source.Size,
	})

	c.JSON(http.StatusOK, UploadResponse{
		Success:  true,
		Token:    token,
		Filename: header.Filename,
		Format:   decoded.Format,
		Width:    decoded.Width,
		Height:   decoded.Height,
		Size:     decoded.Source.Size,
		SizeText: utils.HumanBytes(decoded.Source.Size),
		Preview:  preview,
		State:    sess.State(),
	})
}

// handleConvert 处理转换：提交任务，等待结果
func (s *ConvertService) handleConvert(c *gin.Context) {
	s.addCORSHeaders(c)

	sess, err := s.sessionFromRequest(c)
	if err != nil {
		s.respondError(c, http.StatusUnauthorized, ErrorKindValidation, err.Error())
		return
	}

	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, ErrorKindValidation, "请求参数无效: "+err.Error())
		return
	}

	quality := s.config.Convert.DefaultQuality
	if req.Quality != nil {
		quality = *req.Quality
	}

	// 重入保护：同一会话同时只允许一个转换
	decoded, err := sess.BeginConvert()
	if err != nil {
		s.respondError(c, http.StatusConflict, ErrorKindConversion, err.Error())
		return
	}

	request := img.ConversionRequest{
		TargetMIME: img.MIMEFromFormat(req.Format),
		Quality:    quality,
	}

	outcomeChan := make(chan taskOutcome, 1)
	t, taskID := task.NewTask(c.Request.Context(), task.TaskTypeConvert, &convertParams{
		decoded: decoded,
		request: request,
	})
	t.Callback = task.NewCallBack(func(result interface{}, err error) {
		outcomeChan <- taskOutcome{result: result, err: err}
	})

	started := time.Now()
	if err := s.taskMgr.SubmitTask(sess.ID, t); err != nil {
		sess.FailConvert(err.Error())
		s.respondError(c, http.StatusTooManyRequests, ErrorKindConversion, err.Error())
		return
	}

	s.logger.Debug("转换任务已提交", map[string]interface{}{
		"session_id":    sess.ID,
		"task_id":       taskID,
		"target_format": req.Format,
		"quality":       quality,
	})

	select {
	case outcome := <-outcomeChan:
		if outcome.err != nil {
			s.finishConvertError(c, sess, outcome.err)
			return
		}
		result, ok := outcome.result.(*img.ConversionResult)
		if !ok {
			s.finishConvertError(c, sess, fmt.Errorf("转换任务返回了无效结果"))
			return
		}
		s.finishConvertSuccess(c, sess, decoded, request, result, time.Since(started))
	case <-c.Request.Context().Done():
		sess.FailConvert("连接已断开")
	}
}

// finishConvertSuccess 转换成功收尾：统计、落库、响应
func (s *ConvertService) finishConvertSuccess(c *gin.Context, sess *session.Session, decoded *img.DecodedImage, request img.ConversionRequest, result *img.ConversionResult, elapsed time.Duration) {
	// 展示口径沿用估算值，精确字节数只进历史记录
	savings := img.ComputeSavings(decoded.Source.Size, result.EstimatedBytes)
	filename := img.DeriveFilename(decoded.Source.Filename, result.TargetMIME)

	sess.CompleteConvert(result, filename)

	record := &models.ConversionRecord{
		SessionID:      sess.ID,
		Filename:       decoded.Source.Filename,
		OutputFilename: filename,
		SourceFormat:   decoded.Format,
		TargetFormat:   img.FormatFromMIME(result.TargetMIME),
		Quality:        request.Quality,
		OriginalBytes:  decoded.Source.Size,
		ConvertedBytes: result.Bytes,
		EstimatedBytes: result.EstimatedBytes,
		SavingsPercent: savings.Percent,
		Direction:      savings.Direction,
		DurationMs:     elapsed.Milliseconds(),
		Dimensions:     DimensionsJSON(decoded.Width, decoded.Height),
	}
	if err := s.store.RecordConversion(record); err != nil {
		s.logger.Warn("保存转换记录失败", map[string]interface{}{
			"session_id": sess.ID,
			"error":      err.Error(),
		})
	}

	s.logger.Info("转换完成", map[string]interface{}{
		"session_id":      sess.ID,
		"target_format":   record.TargetFormat,
		"original_bytes":  record.OriginalBytes,
		"converted_bytes": record.ConvertedBytes,
		"savings_percent": record.SavingsPercent,
		"direction":       record.Direction,
		"duration_ms":     record.DurationMs,
	})

	c.JSON(http.StatusOK, ConvertResponse{
		Success:        true,
		DataURI:        result.DataURI,
		Filename:       filename,
		MIMEType:       result.TargetMIME,
		OriginalBytes:  decoded.Source.Size,
		EstimatedBytes: result.EstimatedBytes,
		Savings:        &savings,
		DurationMs:     record.DurationMs,
		State:          sess.State(),
	})
}

// finishConvertError 转换失败收尾：弹toast，统一报告
func (s *ConvertService) finishConvertError(c *gin.Context, sess *session.Session, err error) {
	// 编码失败不向用户透露具体原因
	message := "图片转换失败"
	var convErr *img.ConversionError
	if !errors.As(err, &convErr) {
		s.logger.Warn("转换任务异常", map[string]interface{}{
			"session_id": sess.ID,
			"error":      err.Error(),
		})
	}

	sess.FailConvert(message)
	s.respondError(c, http.StatusInternalServerError, ErrorKindConversion, message)
}

// handleDownload 下载最近一次转换结果
func (s *ConvertService) handleDownload(c *gin.Context) {
	s.addCORSHeaders(c)

	sess, err := s.sessionFromRequest(c)
	if err != nil {
		s.respondError(c, http.StatusUnauthorized, ErrorKindValidation, err.Error())
		return
	}

	result, filename := sess.Result()
	if result == nil {
		s.respondError(c, http.StatusNotFound, ErrorKindConversion, "当前会话没有可下载的转换结果")
		return
	}

	// data URI还原为字节流
	_, payload, ok := strings.Cut(result.DataURI, ";base64,")
	if !ok {
		s.respondError(c, http.StatusInternalServerError, ErrorKindConversion, "转换结果格式异常")
		return
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, ErrorKindConversion, "转换结果解码失败")
		return
	}

	c.Header("Content-Type", result.TargetMIME)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, result.TargetMIME, data)
}

// handleReset 无条件回到初始状态，丢弃图片数据
func (s *ConvertService) handleReset(c *gin.Context) {
	s.addCORSHeaders(c)

	sess, err := s.sessionFromRequest(c)
	if err != nil {
		s.respondError(c, http.StatusUnauthorized, ErrorKindValidation, err.Error())
		return
	}

	sess.Reset()
	c.JSON(http.StatusOK, gin.H{"success": true, "state": sess.State()})
}

// handleSessionState 查询会话状态快照
func (s *ConvertService) handleSessionState(c *gin.Context) {
	s.addCORSHeaders(c)

	sess, err := s.sessionFromRequest(c)
	if err != nil {
		s.respondError(c, http.StatusUnauthorized, ErrorKindValidation, err.Error())
		return
	}

	c.JSON(http.StatusOK, sess.Snapshot())
}

// handleGetTheme 读取主题偏好
func (s *ConvertService) handleGetTheme(c *gin.Context) {
	s.addCORSHeaders(c)

	theme, err := s.store.GetTheme()
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, ErrorKindValidation, "读取主题偏好失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "theme": theme})
}

// handleSetTheme 保存主题偏好
func (s *ConvertService) handleSetTheme(c *gin.Context) {
	s.addCORSHeaders(c)

	var req ThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, ErrorKindValidation, "请求参数无效: "+err.Error())
		return
	}

	if err := s.store.SetTheme(req.Theme); err != nil {
		s.respondError(c, http.StatusInternalServerError, ErrorKindValidation, "保存主题偏好失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "theme": req.Theme})
}

// handleHistory 查询本会话最近的转换记录
func (s *ConvertService) handleHistory(c *gin.Context) {
	s.addCORSHeaders(c)

	sess, err := s.sessionFromRequest(c)
	if err != nil {
		s.respondError(c, http.StatusUnauthorized, ErrorKindValidation, err.Error())
		return
	}

	records, err := s.store.RecentConversions(sess.ID, s.config.Convert.HistoryPageSize)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, ErrorKindValidation, "查询转换记录失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "records": records})
}

// handleEvents 升级为WebSocket并推送状态事件
func (s *ConvertService) handleEvents(c *gin.Context) {
	sess, err := s.sessionFromRequest(c)
	if err != nil {
		s.respondError(c, http.StatusUnauthorized, ErrorKindValidation, err.Error())
		return
	}

	if err := s.hub.Serve(c.Writer, c.Request, sess.ID); err != nil {
		s.logger.Warn("事件连接升级失败", map[string]interface{}{
			"session_id": sess.ID,
			"error":      err.Error(),
		})
	}
}

// sessionFromRequest 从请求中取会话token并解析会话
// 优先Authorization头，WebSocket与下载场景用query参数
func (s *ConvertService) sessionFromRequest(c *gin.Context) (*session.Session, error) {
	var token string

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = authHeader[7:]
	} else {
		token = c.Query("token")
	}

	if token == "" {
		return nil, fmt.Errorf("缺少会话token")
	}

	isValid, sessionID, err := s.authToken.VerifyToken(token)
	if err != nil || !isValid {
		return nil, fmt.Errorf("无效的会话token或token已过期")
	}

	return s.sessions.Get(sessionID)
}

// classifyIntakeError 把上传错误映射为toast类别与HTTP状态码
func classifyIntakeError(err error) (kind string, status int) {
	var validationErr *img.ValidationError
	if errors.As(err, &validationErr) {
		return ErrorKindValidation, http.StatusBadRequest
	}
	var decodeErr *img.DecodeError
	if errors.As(err, &decodeErr) {
		return ErrorKindDecode, http.StatusUnprocessableEntity
	}
	return ErrorKindValidation, http.StatusBadRequest
}

// addCORSHeaders 添加CORS头
func (s *ConvertService) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Headers", "content-type, authorization")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
}

// respondError 返回错误响应
func (s *ConvertService) respondError(c *gin.Context, statusCode int, kind string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Success: false,
		Kind:    kind,
		Message: message,
	})
}
