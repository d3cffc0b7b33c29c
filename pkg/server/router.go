// Package server 提供 HTTP Server 功能
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KodaTao/LLMFunctions/pkg/chassis"
	"github.com/KodaTao/LLMFunctions/pkg/engine"
	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/logs"
	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/prompt"
	"github.com/KodaTao/LLMFunctions/pkg/scheduler"
)

// Server HTTP 服务器
type Server struct {
	app    *chassis.App
	engine *gin.Engine
	config *ServerConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string
	Port int
	Mode string // debug, release, test

	// MetricsPath 为空时不暴露指标
	MetricsPath string
}

// NewServer 创建 HTTP 服务器
func NewServer(app *chassis.App, config *ServerConfig) *Server {
	switch config.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware())
	engine.Use(CORSMiddleware())

	server := &Server{
		app:    app,
		engine: engine,
		config: config,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthCheck)
	if s.config.MetricsPath != "" {
		s.engine.GET(s.config.MetricsPath, gin.WrapH(observability.MetricsHandler()))
	}

	v1 := s.engine.Group("/api/v1")
	{
		// 函数
		v1.GET("/functions", s.listFunctions)
		v1.GET("/functions/:id", s.getFunction)
		v1.POST("/functions/:id/run", s.runFunction)
		v1.POST("/functions/:id/dataset", s.runDataset)

		// 执行记录
		v1.GET("/executions", s.listExecutions)
		v1.GET("/executions/:id", s.getExecution)

		// 定时评估
		tasks := v1.Group("/tasks", s.requireScheduler)
		{
			tasks.GET("", s.listTasks)
			tasks.POST("", s.createTask)
			tasks.GET("/:id", s.getTask)
			tasks.DELETE("/:id", s.deleteTask)
			tasks.POST("/:id/run", s.runTask)
			tasks.POST("/:id/pause", s.pauseTask)
			tasks.POST("/:id/resume", s.resumeTask)
			tasks.GET("/:id/runs", s.listRuns)
			tasks.GET("/:id/runs/:run", s.getRun)
		}
	}
}

// Run 启动服务器
func (s *Server) Run() error {
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	observability.Info("Starting HTTP server", "address", addr)
	return s.engine.Run(addr)
}

// Handler 返回 HTTP 处理器，用于 http.Server 和测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// lookupFunction 先按 ID 再按名称查找
func (s *Server) lookupFunction(c *gin.Context) (*function.Definition, bool) {
	key := c.Param("id")
	registry := s.app.Functions()
	if def, ok := registry.Get(key); ok {
		return def, true
	}
	if def, ok := registry.GetByName(key); ok {
		return def, true
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error": "Function not found: " + key,
	})
	return nil, false
}

func (s *Server) listFunctions(c *gin.Context) {
	functions := s.app.Functions().ListInfo()
	c.JSON(http.StatusOK, gin.H{
		"functions": functions,
		"count":     len(functions),
	})
}

func (s *Server) getFunction(c *gin.Context) {
	def, ok := s.lookupFunction(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"info":       def.Info(),
		"definition": def,
	})
}

// RunRequest 调用请求
type RunRequest struct {
	function.Args
	ExecutionID string `json:"execution_id,omitempty"`
}

func (s *Server) runFunction(c *gin.Context) {
	def, ok := s.lookupFunction(c)
	if !ok {
		return
	}

	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
	}

	exec, err := s.app.Runner().Run(c.Request.Context(), def, req.Args, req.ExecutionID)
	if err != nil {
		observability.Error("Function run failed", "function", def.Name(), "error", err)
		c.JSON(statusFor(err), gin.H{
			"error":     err.Error(),
			"execution": exec,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":    exec.FinalResponse,
		"execution": exec,
	})
}

func (s *Server) runDataset(c *gin.Context) {
	def, ok := s.lookupFunction(c)
	if !ok {
		return
	}

	execs, err := s.app.Runner().RunDataset(c.Request.Context(), def)
	if err != nil {
		observability.Error("Dataset run failed", "function", def.Name(), "error", err)
		c.JSON(statusFor(err), gin.H{
			"error":      err.Error(),
			"executions": execs,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": execs,
		"count":      len(execs),
	})
}

func (s *Server) listExecutions(c *gin.Context) {
	execs := s.app.Logs().List()
	c.JSON(http.StatusOK, gin.H{
		"executions": execs,
		"count":      len(execs),
	})
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.app.Logs().Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) requireScheduler(c *gin.Context) {
	if s.app.Scheduler() == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "scheduler is not enabled",
		})
		return
	}
	c.Next()
}

// CreateTaskRequest 创建定时评估任务请求
type CreateTaskRequest struct {
	Name        string `json:"name" binding:"required"`
	CronExpr    string `json:"cron_expr" binding:"required"`
	FunctionID  string `json:"function_id" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) createTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	task, err := s.app.Scheduler().CreateTask(req.Name, req.CronExpr, req.FunctionID, req.Description)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	limit, offset := pagination(c)
	tasks, err := s.app.Scheduler().ListTasks(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := s.app.Scheduler().GetTaskByID(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := s.app.Scheduler().DeleteTaskByID(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Task deleted",
	})
}

func (s *Server) runTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	run, err := s.app.Scheduler().RunNow(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
			"run":   run,
		})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) pauseTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := s.app.Scheduler().PauseTask(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.respondTask(c, id)
}

func (s *Server) resumeTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := s.app.Scheduler().ResumeTask(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.respondTask(c, id)
}

// respondTask 返回任务最新状态
func (s *Server) respondTask(c *gin.Context, id uint) {
	task, err := s.app.Scheduler().GetTaskByID(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task":      task,
		"scheduled": s.app.Scheduler().IsScheduled(id),
	})
}

func (s *Server) getRun(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	runID, err := strconv.ParseUint(c.Param("run"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid run id: " + c.Param("run"),
		})
		return
	}
	run, err := s.app.Scheduler().GetRun(id, uint(runID))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listRuns(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	runs, err := s.app.Scheduler().GetRunHistory(id, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func taskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid task id: " + c.Param("id"),
		})
		return 0, false
	}
	return uint(id), true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, logs.ErrExecutionNotFound),
		errors.Is(err, function.ErrFunctionNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound),
		errors.Is(err, scheduler.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoDataset),
		errors.Is(err, engine.ErrMissingDocument),
		errors.Is(err, engine.ErrUnknownProvider),
		errors.Is(err, prompt.ErrMissingValue):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		observability.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
