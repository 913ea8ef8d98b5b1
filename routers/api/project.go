package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"ScriptToVideo-server/models"
	"ScriptToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建项目：只落库，不触发任何生成
func CreateProject(c *gin.Context) {
	var req struct {
		Title      string                `json:"title"`
		ScriptText string                `json:"script_text"`
		Config     *models.ProjectConfig `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ScriptText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "剧本文本不能为空"})
		return
	}

	cfg := models.DefaultProjectConfig()
	if req.Config != nil {
		cfg = mergeConfig(cfg, *req.Config)
	}

	project := models.Project{
		ID:         uuid.NewString(),
		Title:      req.Title,
		ScriptText: req.ScriptText,
		Status:     models.ProjectStatusDraft,
		Config:     cfg,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := models.CreateProject(models.GormDB, &project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 项目列表（带场景数）
func ListProjects(c *gin.Context) {
	projects, err := models.ListProjects(models.GormDB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取项目列表失败: " + err.Error()})
		return
	}
	type projectItem struct {
		models.Project
		SceneCount int64 `json:"sceneCount"`
	}
	items := make([]projectItem, 0, len(projects))
	for _, p := range projects {
		var count int64
		models.GormDB.Model(&models.Scene{}).Where("project_id = ?", p.ID).Count(&count)
		items = append(items, projectItem{Project: p, SceneCount: count})
	}
	c.JSON(http.StatusOK, gin.H{"projects": items})
}

// 项目详情：项目 + 场景列表 + 最近任务
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	scenes, err := models.GetScenesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取场景失败: " + err.Error()})
		return
	}
	// 最近任务可能不存在，忽略查不到的情况
	recentTask, _ := models.GetRecentTaskByProjectID(models.GormDB, projectID)

	c.JSON(http.StatusOK, gin.H{
		"project":     project,
		"scenes":      scenes,
		"recent_task": recentTask,
	})
}

// 更新项目生成配置（部分字段更新，零值跳过）
func UpdateProjectConfig(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}

	var req models.ProjectConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	merged := mergeConfig(project.Config, req)
	if err := models.UpdateProjectConfig(models.GormDB, projectID, merged); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新配置失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": merged})
}

func mergeConfig(base, override models.ProjectConfig) models.ProjectConfig {
	if override.ImagesPerScene > 0 {
		base.ImagesPerScene = override.ImagesPerScene
	}
	if len(override.ImageModels) > 0 {
		base.ImageModels = override.ImageModels
	}
	if len(override.AnimationModels) > 0 {
		base.AnimationModels = override.AnimationModels
	}
	if override.StylePrefix != "" {
		base.StylePrefix = override.StylePrefix
	}
	if override.Format != "" {
		base.Format = override.Format
	}
	if override.VoiceID != "" {
		base.VoiceID = override.VoiceID
	}
	if override.TTSModel != "" {
		base.TTSModel = override.TTSModel
	}
	if override.MaxScenes > 0 {
		base.MaxScenes = override.MaxScenes
	}
	return base
}

// 触发剧本拆分。允许从任何稳定态重新拆分，旧场景及其产物会被整体替换。
func SplitScript(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if strings.TrimSpace(project.ScriptText) == "" {
		abortWithError(c, fmt.Errorf("%w: 剧本文本为空", service.ErrValidation))
		return
	}
	if err := service.TransitionProject(models.GormDB, project, models.ProjectStatusSplitting); err != nil {
		abortWithError(c, err)
		return
	}

	task := newTask(projectID, models.TaskTypeSplit, "拆分任务已创建，正在生成场景...")
	dispatchTask(c, task)
}

// 触发整片渲染。clips_ready / narration_ready / rendered 均可发起。
func RenderVideo(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}

	// 先确认至少有一个场景有选中的可用视频，零素材不进入 rendering
	clips, err := service.CollectClips(models.GormDB, project.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := service.TransitionProject(models.GormDB, project, models.ProjectStatusRendering); err != nil {
		abortWithError(c, err)
		return
	}

	task := newTask(projectID, models.TaskTypeRender,
		fmt.Sprintf("渲染任务已创建，共 %d 个片段", len(clips)))
	dispatchTask(c, task)
}

// 触发旁白生成，要求已配置音色
func GenerateNarration(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if project.Config.VoiceID == "" {
		abortWithError(c, fmt.Errorf("%w: 项目未配置音色", service.ErrValidation))
		return
	}
	scenes, err := models.GetScenesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取场景失败: " + err.Error()})
		return
	}
	if len(scenes) == 0 {
		abortWithError(c, fmt.Errorf("%w: 项目没有场景", service.ErrValidation))
		return
	}
	if err := service.TransitionProject(models.GormDB, project, models.ProjectStatusGeneratingNarration); err != nil {
		abortWithError(c, err)
		return
	}

	task := newTask(projectID, models.TaskTypeNarration, "旁白生成任务已创建")
	dispatchTask(c, task)
}

// 健康检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
