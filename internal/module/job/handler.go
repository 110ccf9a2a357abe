package job

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gridtrack/internal/pkg/client/slurm"
	"gridtrack/internal/pkg/common/response"
	jobpkg "gridtrack/internal/pkg/job"
	"gridtrack/internal/pkg/model"
)

// Options configures the job handlers once at startup.
type Options struct {
	MonitorInterval time.Duration
	KillErrored     bool
	Accounting      jobpkg.FilterOptions
	Notifier        jobpkg.Notifier
}

var opts = Options{
	MonitorInterval: jobpkg.DefaultMonitorInterval,
	KillErrored:     true,
}

// Configure sets the handler options; call before mounting routes.
func Configure(o Options) {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = jobpkg.DefaultMonitorInterval
	}
	opts = o
}

// SubmitBody is the request payload for job submission.
type SubmitBody struct {
	Command string   `json:"command" binding:"required"`
	Name    string   `json:"name"`
	LogDir  string   `json:"log_dir"`
	Params  []string `json:"params"`
	// SettleSeconds pauses after submission; avoids hammering the scheduler
	// when submitting in a loop.
	SettleSeconds int `json:"settle_seconds" binding:"omitempty,gte=0,lte=60"`
}

// HandlerSubmitJob 提交一个计算作业.
//
// @Summary 提交作业
// @Description 将 shell 命令包装后提交到批处理调度器, 返回调度器分配的作业 ID 与名称
// @Tags job
// @Accept json
// @Produce json
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/jobs [post]
func HandlerSubmitJob(c *gin.Context) {
	sched := jobpkg.DefaultScheduler()
	if sched == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "scheduler client not initialized"})
		return
	}

	var body SubmitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = "gridtrack-" + uuid.NewString()[:8]
	}

	id, name, err := sched.Submit(c.Request.Context(), jobpkg.SubmitRequest{
		Command:      body.Command,
		Name:         name,
		Params:       body.Params,
		StdoutLogDir: body.LogDir,
		StderrLogDir: body.LogDir,
		PreCommands:  "set -x",
		PostCommands: "set +x",
		Settle:       time.Duration(body.SettleSeconds) * time.Second,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.Response{Count: 1, Results: gin.H{"jobid": id, "name": name, "log_dir": body.LogDir}})
}

// HandlerGetJobStatus 获取作业当前状态快照.
//
// @Summary 获取作业状态
// @Description 查询调度队列并返回作业的状态快照(present/running/errored)
// @Tags job
// @Produce json
// @Param jobid query string true "Job ID"
// @Success 200 {object} response.Response
// @Router /api/v1/jobs/status [get]
func HandlerGetJobStatus(c *gin.Context) {
	sched := jobpkg.DefaultScheduler()
	if sched == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "scheduler client not initialized"})
		return
	}

	jobid := strings.TrimSpace(c.Query("jobid"))
	if jobid == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing jobid parameter"})
		return
	}

	j := jobpkg.New(jobid, c.Query("name"), "", sched, jobpkg.DefaultAccountant(), nil)
	snap := j.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, response.Response{Count: 1, Results: snap})
}

// HandlerGetQueue 获取调度队列列表（可分页）.
//
// @Summary 获取调度队列
// @Description 返回当前调度队列的解析结果; slurm 下为 squeue -o %all 的行, 其他调度器返回原始文本
// @Tags job
// @Produce json
// @Param paging query bool false "是否开启分页" default(true)
// @Param page query int false "页号(从1开始)" default(1) minimum(1)
// @Param page_size query int false "每页数量" default(20) minimum(1)
// @Success 200 {object} response.Response
// @Router /api/v1/jobs/queue [get]
func HandlerGetQueue(c *gin.Context) {
	// the pipe table is slurm-specific; other families return raw text
	if sc := slurm.Default(); sc != nil {
		rows, err := sc.Squeue(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error()})
			return
		}
		paged(c, rows)
		return
	}

	sched := jobpkg.DefaultScheduler()
	if sched == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "scheduler client not initialized"})
		return
	}
	raw, err := sched.QueueRaw(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: 1, Results: raw})
}

// ValidateBody is the optional request payload for completion validation.
type ValidateBody struct {
	Owner      string `json:"owner"`
	MaxAgeDays int    `json:"max_age_days" binding:"omitempty,gte=0"`
}

// HandlerValidateJob 校验作业是否成功完成.
//
// @Summary 校验作业完成状态
// @Description 作业离开队列后, 根据账目记录判断其是否成功完成, 并返回逐项校验的审计信息
// @Tags job
// @Accept json
// @Produce json
// @Param jobid query string true "Job ID"
// @Success 200 {object} response.Response
// @Router /api/v1/jobs/validate [post]
func HandlerValidateJob(c *gin.Context) {
	sched := jobpkg.DefaultScheduler()
	acct := jobpkg.DefaultAccountant()
	if sched == nil || acct == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "scheduler or accounting client not initialized"})
		return
	}

	jobid := strings.TrimSpace(c.Query("jobid"))
	if jobid == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing jobid parameter"})
		return
	}

	filter := opts.Accounting
	var body ValidateBody
	if err := c.ShouldBindJSON(&body); err == nil {
		if body.Owner != "" {
			filter.Owner = body.Owner
		}
		if body.MaxAgeDays > 0 {
			filter.MaxAgeDays = body.MaxAgeDays
		}
	}

	j := jobpkg.New(jobid, "", "", sched, acct, nil)
	valid, err := j.ValidateCompletion(c.Request.Context(), filter)

	result := gin.H{"jobid": jobid, "valid": valid, "validations": j.Validations()}
	if err != nil {
		if errors.Is(err, jobpkg.ErrAmbiguousAccounting) {
			c.JSON(http.StatusConflict, response.Response{Detail: err.Error(), Results: result})
			return
		}
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error(), Results: result})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: 1, Results: result})
}

// MonitorBody is the request payload for a monitoring run.
type MonitorBody struct {
	JobIDs      []string `json:"jobids" binding:"required,min=1"`
	KillErrored *bool    `json:"kill_errored"`
}

// HandlerMonitorJobs 阻塞式监控一组作业直至全部离开队列.
//
// @Summary 监控作业
// @Description 轮询给定作业直到全部完成或出错; 出错作业默认批量删除. 请求取消会中止轮询
// @Tags job
// @Accept json
// @Produce json
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/jobs/monitor [post]
func HandlerMonitorJobs(c *gin.Context) {
	sched := jobpkg.DefaultScheduler()
	if sched == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "scheduler client not initialized"})
		return
	}

	var body MonitorBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}

	jobs := make([]*jobpkg.Job, 0, len(body.JobIDs))
	for _, id := range body.JobIDs {
		jobs = append(jobs, jobpkg.New(strings.TrimSpace(id), "", "", sched, jobpkg.DefaultAccountant(), nil))
	}

	m := jobpkg.NewMonitor(sched, nil)
	m.Interval = opts.MonitorInterval
	m.KillErrored = opts.KillErrored
	if body.KillErrored != nil {
		m.KillErrored = *body.KillErrored
	}
	if opts.Notifier != nil {
		m.WithNotifier(opts.Notifier)
	}

	completed, errored, err := m.Run(c.Request.Context(), jobs)
	result := gin.H{"completed": ids(completed), "errored": ids(errored)}
	if err != nil {
		if errors.Is(err, jobpkg.ErrNoJobs) {
			c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error(), Results: result})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(body.JobIDs), Results: result})
}

// HandlerKillJobs 批量删除作业.
//
// @Summary 删除作业
// @Description 将全部作业 ID 合并为一次调度器删除命令调用
// @Tags job
// @Produce json
// @Param jobid query string true "作业 ID, 多个采用逗号分割" example("4104004,4104006")
// @Success 200 {object} response.Response
// @Router /api/v1/jobs [delete]
func HandlerKillJobs(c *gin.Context) {
	sched := jobpkg.DefaultScheduler()
	if sched == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "scheduler client not initialized"})
		return
	}

	raw := strings.TrimSpace(c.Query("jobid"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing jobid parameter"})
		return
	}
	jobids := make([]string, 0)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			jobids = append(jobids, id)
		}
	}

	if err := sched.Kill(c.Request.Context(), jobids); err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(jobids), Results: jobids})
}

func ids(jobs []*jobpkg.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

// paged applies the common paging envelope to a row slice.
func paged(c *gin.Context, rows []slurm.Row) {
	total := len(rows)

	var pq model.PagingQuery
	_ = c.ShouldBindQuery(&pq)
	if !pq.Enabled() {
		c.JSON(http.StatusOK, response.Response{Count: total, Results: rows})
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
	c.JSON(http.StatusOK, response.Response{Count: total, Previous: prevURL, Next: nextURL, Results: rows[start:end]})
}
