package job

import (
	"github.com/gin-gonic/gin"
)

type Router struct{}

func (rt Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1/jobs")
	{
		v1.POST("", HandlerSubmitJob)           // POST   /api/v1/jobs
		v1.DELETE("", HandlerKillJobs)          // DELETE /api/v1/jobs?jobid=a,b,c
		v1.GET("/status", HandlerGetJobStatus)  // GET    /api/v1/jobs/status?jobid=xxx
		v1.GET("/queue", HandlerGetQueue)       // GET    /api/v1/jobs/queue?paging=xxx&page=xxx&page_size=xxx
		v1.POST("/validate", HandlerValidateJob) // POST  /api/v1/jobs/validate?jobid=xxx
		v1.POST("/monitor", HandlerMonitorJobs)  // POST  /api/v1/jobs/monitor
	}
}
