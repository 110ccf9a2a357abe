package cluster

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gridtrack/internal/pkg/client/slurm"
	"gridtrack/internal/pkg/common/response"
	"gridtrack/internal/pkg/model"
)

// HandlerGetPartitions 获取各分区节点利用率（可分页）.
//
// @Summary 获取分区利用率
// @Description 通过 sinfo 获取各分区节点 available/idle/other/total 统计; 支持分页返回
// @Tags cluster
// @Produce json
// @Param paging query bool false "是否开启分页" default(true)
// @Param page query int false "页号(从1开始)" default(1) minimum(1)
// @Param page_size query int false "每页数量" default(20) minimum(1)
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/cluster/partition/all [get]
func HandlerGetPartitions(c *gin.Context) {
	client := slurm.Default()
	if client == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "cluster telemetry requires the slurm client"})
		return
	}

	parts, err := client.Partitions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error()})
		return
	}

	total := len(parts)

	var pq model.PagingQuery
	_ = c.ShouldBindQuery(&pq)
	if !pq.Enabled() {
		c.JSON(http.StatusOK, response.Response{Count: total, Results: parts})
		return
	}
	pq.SetDefaults(1, 20, 100)
	if err := pq.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid paging parameters"})
		return
	}

	start := pq.Offset()
	if start > total {
		start = total
	}
	end := start + pq.Limit()
	if end > total {
		end = total
	}
	prevURL, nextURL := response.BuildPageLinks(c.Request.URL, pq.Page, pq.PageSize, total)
	c.JSON(http.StatusOK, response.Response{Count: total, Previous: prevURL, Next: nextURL, Results: parts[start:end]})
}

// HandlerMostIdle 获取空闲节点最多的分区.
//
// @Summary 获取最空闲分区
// @Tags cluster
// @Produce json
// @Param excluding query string false "排除的分区, 多个采用逗号分割" example("debug,gpu")
// @Success 200 {object} response.Response
// @Router /api/v1/cluster/partition/most-idle [get]
func HandlerMostIdle(c *gin.Context) {
	pickPartition(c, func(client *slurm.Client, excluding []string) (string, error) {
		return client.MostIdle(c.Request.Context(), excluding)
	})
}

// HandlerMostAvailable 获取可用节点最多的分区.
//
// @Summary 获取可用节点最多的分区
// @Tags cluster
// @Produce json
// @Param excluding query string false "排除的分区, 多个采用逗号分割" example("debug,gpu")
// @Success 200 {object} response.Response
// @Router /api/v1/cluster/partition/most-available [get]
func HandlerMostAvailable(c *gin.Context) {
	pickPartition(c, func(client *slurm.Client, excluding []string) (string, error) {
		return client.MostAvailable(c.Request.Context(), excluding)
	})
}

func pickPartition(c *gin.Context, pick func(*slurm.Client, []string) (string, error)) {
	client := slurm.Default()
	if client == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "cluster telemetry requires the slurm client"})
		return
	}

	excluding := make([]string, 0)
	for _, name := range strings.Split(c.Query("excluding"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			excluding = append(excluding, name)
		}
	}

	name, err := pick(client, excluding)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: 1, Results: gin.H{"partition": name}})
}

// HandlerExpandNodes 展开紧凑的节点列表表示.
//
// @Summary 展开节点列表
// @Description 将 sinfo 输出中的紧凑 NODELIST 表示(如 cn-[0006,0011-0014])展开为主机名列表
// @Tags cluster
// @Produce json
// @Param nodelist query string true "紧凑节点列表" example("cn-[0006,0011-0014]")
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/cluster/nodes/expand [get]
func HandlerExpandNodes(c *gin.Context) {
	nodelist := strings.TrimSpace(c.Query("nodelist"))
	if nodelist == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing nodelist parameter"})
		return
	}
	names := slurm.ExpandNodeRange(nodelist)
	c.JSON(http.StatusOK, response.Response{Count: len(names), Results: names})
}
