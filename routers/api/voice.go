package api

import (
	"net/http"

	"ScriptToVideo-server/config"
	"ScriptToVideo-server/service"

	"github.com/gin-gonic/gin"
)

// 可用音色列表，直接透传 TTS 服务端
func ListVoices(c *gin.Context) {
	tts := service.NewTTSBackend(config.AppConfig)
	voices, err := tts.ListVoices(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voices": voices})
}
