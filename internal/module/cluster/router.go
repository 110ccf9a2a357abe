package cluster

import (
	"github.com/gin-gonic/gin"
)

type Router struct{}

func (rt Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1/cluster")
	{
		v1.GET("/partition/all", HandlerGetPartitions)            // GET /api/v1/cluster/partition/all?paging=xxx&page=xxx&page_size=xxx
		v1.GET("/partition/most-idle", HandlerMostIdle)           // GET /api/v1/cluster/partition/most-idle?excluding=xxx
		v1.GET("/partition/most-available", HandlerMostAvailable) // GET /api/v1/cluster/partition/most-available?excluding=xxx
		v1.GET("/nodes/expand", HandlerExpandNodes)               // GET /api/v1/cluster/nodes/expand?nodelist=xxx
	}
}
