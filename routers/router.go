package routers

import (
	"ScriptToVideo-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/v1/api")
	{
		v1.GET("/health", api.Health)

		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects", api.ListProjects)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PUT("/projects/:project_id/config", api.UpdateProjectConfig)

		// 管线阶段触发：校验 + 状态迁移 + 建任务入队，立即返回
		v1.POST("/projects/:project_id/split", api.SplitScript)
		v1.POST("/projects/:project_id/images", api.GenerateImages)
		v1.POST("/projects/:project_id/clips", api.GenerateClips)
		v1.POST("/projects/:project_id/narration", api.GenerateNarration)
		v1.POST("/projects/:project_id/render", api.RenderVideo)

		v1.PUT("/scenes/:scene_id/prompts", api.UpdateScenePrompts)
		v1.POST("/scenes/:scene_id/images", api.GenerateSceneImages)
		v1.POST("/scenes/:scene_id/clips", api.GenerateSceneClips)
		v1.GET("/scenes/:scene_id/images", api.GetSceneImages)
		v1.GET("/scenes/:scene_id/clips", api.GetSceneClips)

		v1.POST("/images/:image_id/select", api.SelectImage)
		v1.POST("/images/:image_id/regenerate", api.RegenerateImage)
		v1.POST("/clips/:clip_id/select", api.SelectClip)
		v1.POST("/clips/:clip_id/regenerate", api.RegenerateClip)

		v1.GET("/voices", api.ListVoices)
		v1.GET("/tasks/:task_id", api.GetTaskStatus)
	}
	r.GET("/tasks/:task_id/wss", api.TaskProgressWebSocket)
	return r
}
