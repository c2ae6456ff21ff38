// 文件: internal/api/handlers.go
package api

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"ISS_Harvester/internal/task"
	"ISS_Harvester/pkg/database"
	"ISS_Harvester/pkg/progress"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

// APIHandlers 持有所有依赖
type APIHandlers struct {
	taskManager *task.Manager
	db          database.Store
	// configPath 是 PUT /config 写回的文件
	configPath string
}

// NewAPIHandlers 创建一个新的API处理器实例。db 可以为 nil，此时元数据接口返回 503。
func NewAPIHandlers(tm *task.Manager, db database.Store) *APIHandlers {
	return &APIHandlers{
		taskManager: tm,
		db:          db,
		configPath:  "config.yaml",
	}
}

// --- 辅助函数 ---

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

func taskErrorStatus(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrTaskRunning), errors.Is(err, task.ErrTaskFinished):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// --- 任务处理器 ---

func (h *APIHandlers) HandleStartHarvestTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.taskManager.StartHarvestTask()
	if err != nil {
		respondError(w, taskErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (h *APIHandlers) HandleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	t, err := h.taskManager.GetTaskStatus(taskID)
	if err != nil {
		respondError(w, taskErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *APIHandlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if err := h.taskManager.CancelTask(taskID); err != nil {
		respondError(w, taskErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID, "status": "cancelling"})
}

// HandleDownloadProgress 接收外部下载进程上报的一行进度，格式与下载进程的标准输出相同。
func (h *APIHandlers) HandleDownloadProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无法读取请求体: "+err.Error())
		return
	}
	ev, ok := progress.ParseDownloadLine(string(body))
	if !ok {
		respondError(w, http.StatusBadRequest, "无法识别的下载进度格式")
		return
	}
	state, err := h.taskManager.ReportDownload(taskID, ev)
	if err != nil {
		respondError(w, taskErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// --- 元数据处理器 ---

func (h *APIHandlers) HandleListMetadata(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respondError(w, http.StatusServiceUnavailable, "未配置数据库")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	items, total, err := h.db.Metadata().List(r.Context(), page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "获取元数据列表失败: "+err.Error())
		return
	}
	if items == nil {
		items = []models.EnrichedMetadata{}
	}
	response := map[string]interface{}{
		"data": items,
		"pagination": map[string]interface{}{
			"currentPage": page,
			"totalPages":  int(math.Ceil(float64(total) / float64(limit))),
			"totalItems":  total,
		},
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) HandleGetMetadata(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respondError(w, http.StatusServiceUnavailable, "未配置数据库")
		return
	}
	id := models.Identity(chi.URLParam(r, "nasaId"))
	item, err := h.db.Metadata().GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "查询元数据失败: "+err.Error())
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "找不到图片: "+string(id))
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// --- 配置处理器 ---

// HandleGetConfig 获取当前应用配置
func (h *APIHandlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, config.Current())
}

// HandleUpdateConfig 校验新配置，写回 config.yaml 并替换内存中的全局配置。
// 之后开始的采集任务使用新的 catalog、enricher、batch 和 download 设置，正在运行的任务不受影响。
// server、database、logger、existence 以及 download.manifestDir 在启动时读取，修改后需要重启。
func (h *APIHandlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "无法读取请求体: "+err.Error())
		return
	}
	var present struct {
		Catalog struct {
			ReturnFields json.RawMessage `json:"returnFields"`
		} `json:"catalog"`
	}
	newConfig := config.Default()
	if err := json.Unmarshal(body, &present); err == nil && present.Catalog.ReturnFields != nil {
		// 请求中的 returnFields 整体替换默认值
		newConfig.Catalog.ReturnFields = nil
	}
	if err := json.Unmarshal(body, newConfig); err != nil {
		respondError(w, http.StatusBadRequest, "无效的配置格式: "+err.Error())
		return
	}
	if err := newConfig.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	yamlData, err := yaml.Marshal(newConfig)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "序列化配置为YAML失败: "+err.Error())
		return
	}
	if err := os.WriteFile(h.configPath, yamlData, 0644); err != nil {
		respondError(w, http.StatusInternalServerError, "写入config.yaml文件失败: "+err.Error())
		return
	}

	config.Replace(newConfig)
	respondJSON(w, http.StatusOK, newConfig)
}
