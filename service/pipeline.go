package service

import (
	"fmt"
	"sync"

	"ScriptToVideo-server/models"

	"gorm.io/gorm"
)

// 项目状态机：合法迁移表。失败回退走 stageRollback，不在这张表里。
var projectTransitions = map[string][]string{
	models.ProjectStatusDraft:               {models.ProjectStatusSplitting},
	models.ProjectStatusSplitting:           {models.ProjectStatusScenesReady},
	models.ProjectStatusScenesReady:         {models.ProjectStatusGeneratingImages, models.ProjectStatusSplitting},
	models.ProjectStatusGeneratingImages:    {models.ProjectStatusImagesReady},
	models.ProjectStatusImagesReady:         {models.ProjectStatusGeneratingClips, models.ProjectStatusGeneratingImages, models.ProjectStatusSplitting},
	models.ProjectStatusGeneratingClips:     {models.ProjectStatusClipsReady},
	models.ProjectStatusClipsReady:          {models.ProjectStatusGeneratingNarration, models.ProjectStatusRendering, models.ProjectStatusGeneratingClips, models.ProjectStatusSplitting},
	models.ProjectStatusGeneratingNarration: {models.ProjectStatusNarrationReady},
	models.ProjectStatusNarrationReady:      {models.ProjectStatusRendering, models.ProjectStatusGeneratingNarration, models.ProjectStatusSplitting},
	models.ProjectStatusRendering:           {models.ProjectStatusRendered},
	models.ProjectStatusRendered:            {models.ProjectStatusSplitting, models.ProjectStatusRendering},
}

// 各 in-flight 阶段失败时的回退目标
var stageRollback = map[string]string{
	models.ProjectStatusSplitting:           models.ProjectStatusDraft,
	models.ProjectStatusGeneratingNarration: models.ProjectStatusClipsReady,
	models.ProjectStatusRendering:           models.ProjectStatusClipsReady,
}

func CanTransition(from, to string) bool {
	for _, allowed := range projectTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionProject 校验后写状态，非法迁移返回 ErrInvalidState
func TransitionProject(db *gorm.DB, project *models.Project, to string) error {
	if !CanTransition(project.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, project.Status, to)
	}
	if err := models.UpdateProjectStatus(db, project.ID, to); err != nil {
		return err
	}
	project.Status = to
	return nil
}

// CompleteStage 批次收尾：in-flight 阶段到达对应的 ready 态。
// 批次里有条目失败不影响收尾，失败是条目级的。
func CompleteStage(db *gorm.DB, projectID string, to string) error {
	return models.UpdateProjectStatus(db, projectID, to)
}

// RollbackStage 把项目从 in-flight 状态退回上一个稳定态
func RollbackStage(db *gorm.DB, projectID string, inflight string) error {
	target, ok := stageRollback[inflight]
	if !ok {
		return fmt.Errorf("%w: no rollback target for %s", ErrInvalidState, inflight)
	}
	return models.UpdateProjectStatus(db, projectID, target)
}

// 阶段在飞注册表：同一项目同一阶段同时只允许一个批次。
// 状态字段本身只是提示，不是锁；真正的防重入靠这张表。
var stageRegistry = struct {
	sync.Mutex
	m map[string]bool
}{m: make(map[string]bool)}

func stageKey(projectID, stage string) string {
	return projectID + "/" + stage
}

// AcquireStage 尝试占住项目的某个阶段，已被占用时返回 false
func AcquireStage(projectID, stage string) bool {
	stageRegistry.Lock()
	defer stageRegistry.Unlock()
	key := stageKey(projectID, stage)
	if stageRegistry.m[key] {
		return false
	}
	stageRegistry.m[key] = true
	return true
}

func ReleaseStage(projectID, stage string) {
	stageRegistry.Lock()
	defer stageRegistry.Unlock()
	delete(stageRegistry.m, stageKey(projectID, stage))
}
