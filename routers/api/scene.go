package api

import (
	"fmt"
	"net/http"

	"ScriptToVideo-server/models"
	"ScriptToVideo-server/service"

	"github.com/gin-gonic/gin"
)

// 触发整项目批量生图：scenes_ready / images_ready 均可（重跑会新增记录）
func GenerateImages(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if len(project.Config.ImageModels) == 0 {
		abortWithError(c, fmt.Errorf("%w: 项目未配置生图模型", service.ErrValidation))
		return
	}
	if err := requireEligibleScene(projectID, func(s models.Scene) bool { return s.ImagePrompt != "" },
		"没有带生图提示词的场景"); err != nil {
		abortWithError(c, err)
		return
	}
	if err := service.TransitionProject(models.GormDB, project, models.ProjectStatusGeneratingImages); err != nil {
		abortWithError(c, err)
		return
	}

	task := newTask(projectID, models.TaskTypeImages, "批量生图任务已创建")
	dispatchTask(c, task)
}

// 触发整项目图生视频：要求至少一个场景有选中图
func GenerateClips(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if len(project.Config.AnimationModels) == 0 {
		abortWithError(c, fmt.Errorf("%w: 项目未配置动画模型", service.ErrValidation))
		return
	}
	if err := requireEligibleScene(projectID, func(s models.Scene) bool { return s.SelectedImageId != "" },
		"没有已选中图片的场景"); err != nil {
		abortWithError(c, err)
		return
	}
	if err := service.TransitionProject(models.GormDB, project, models.ProjectStatusGeneratingClips); err != nil {
		abortWithError(c, err)
		return
	}

	task := newTask(projectID, models.TaskTypeClips, "图生视频任务已创建")
	dispatchTask(c, task)
}

// 单场景补生成图片：不改项目状态，直接发任务
func GenerateSceneImages(c *gin.Context) {
	sceneID := c.Param("scene_id")

	scene, err := models.GetSceneByID(models.GormDB, sceneID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "场景未找到: " + err.Error()})
		return
	}
	if scene.ImagePrompt == "" {
		abortWithError(c, fmt.Errorf("%w: 场景没有生图提示词", service.ErrValidation))
		return
	}

	task := newTask(scene.ProjectId, models.TaskTypeImages, "场景生图任务已创建")
	task.SceneId = sceneID
	dispatchTask(c, task)
}

// 单场景补生成视频：要求该场景已有选中图
func GenerateSceneClips(c *gin.Context) {
	sceneID := c.Param("scene_id")

	scene, err := models.GetSceneByID(models.GormDB, sceneID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "场景未找到: " + err.Error()})
		return
	}
	if scene.SelectedImageId == "" {
		abortWithError(c, fmt.Errorf("%w: 场景没有选中的图片", service.ErrValidation))
		return
	}

	task := newTask(scene.ProjectId, models.TaskTypeClips, "场景图生视频任务已创建")
	task.SceneId = sceneID
	dispatchTask(c, task)
}

// 更新场景提示词（部分更新：缺省字段不动）
func UpdateScenePrompts(c *gin.Context) {
	sceneID := c.Param("scene_id")

	if _, err := models.GetSceneByID(models.GormDB, sceneID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "场景未找到: " + err.Error()})
		return
	}

	var req struct {
		ImagePrompt     *string `json:"image_prompt"`
		AnimationPrompt *string `json:"animation_prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ImagePrompt == nil && req.AnimationPrompt == nil {
		abortWithError(c, fmt.Errorf("%w: 没有要更新的字段", service.ErrValidation))
		return
	}
	if err := models.UpdateScenePrompts(models.GormDB, sceneID, req.ImagePrompt, req.AnimationPrompt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新提示词失败: " + err.Error()})
		return
	}

	scene, err := models.GetSceneByID(models.GormDB, sceneID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": scene})
}

// 场景下全部候选图
func GetSceneImages(c *gin.Context) {
	sceneID := c.Param("scene_id")
	images, err := models.GetImagesBySceneID(models.GormDB, sceneID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取图片失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

// 场景下全部候选视频
func GetSceneClips(c *gin.Context) {
	sceneID := c.Param("scene_id")
	clips, err := models.GetClipsBySceneID(models.GormDB, sceneID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取视频失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clips": clips})
}

func requireEligibleScene(projectID string, ok func(models.Scene) bool, msg string) error {
	scenes, err := models.GetScenesByProjectID(models.GormDB, projectID)
	if err != nil {
		return err
	}
	for _, s := range scenes {
		if ok(s) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", service.ErrValidation, msg)
}
