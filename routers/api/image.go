package api

import (
	"net/http"

	"ScriptToVideo-server/models"
	"ScriptToVideo-server/service"

	"github.com/gin-gonic/gin"
)

// 选中某张候选图：同场景其余图全部取消选中，事务内完成
func SelectImage(c *gin.Context) {
	imageID := c.Param("image_id")

	img, err := service.SelectImage(models.GormDB, imageID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": img})
}

// 重新生成某张图：记录立即重置为 processing 并换代，旧任务的写回会被丢弃
func RegenerateImage(c *gin.Context) {
	imageID := c.Param("image_id")

	img, err := models.ResetImageForRegenerate(models.GormDB, imageID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	scene, err := models.GetSceneByID(models.GormDB, img.SceneId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取场景失败: " + err.Error()})
		return
	}

	task := newTask(scene.ProjectId, models.TaskTypeRegenImage, "图片重生成任务已创建")
	task.SceneId = scene.ID
	task.ArtifactId = img.ID
	dispatchTask(c, task)
}
