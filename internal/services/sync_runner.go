package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services/syncer"
	"github.com/huangang/trackmirror/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrMirrorNotFound = errors.New("mirror not found")
	ErrMirrorBusy     = errors.New("mirror is already running")
)

// SyncRunner runs a mirror end to end: Pull both projects, then Push both.
type SyncRunner struct {
	db      *gorm.DB
	engine  *syncer.Engine
	locks   *LockService
	lockTTL time.Duration
}

func NewSyncRunner(db *gorm.DB, engine *syncer.Engine, lockTTL time.Duration) *SyncRunner {
	return &SyncRunner{
		db:      db,
		engine:  engine,
		locks:   NewLockService(db),
		lockTTL: lockTTL,
	}
}

// RunResult holds the sync logs written by one mirror run, in execution order.
type RunResult struct {
	MirrorID uint              `json:"mirror_id"`
	Logs     []*models.SyncLog `json:"logs"`
}

// Failed reports whether any Pull or Push finished with errors.
func (r *RunResult) Failed() bool {
	for _, l := range r.Logs {
		if l.Status != models.SyncStatusSuccess {
			return true
		}
	}
	return false
}

// Process is the TaskQueue processor. A mirror that is already running is skipped.
func (s *SyncRunner) Process(ctx context.Context, task *SyncTask) error {
	_, err := s.RunMirror(ctx, task.MirrorID)
	if errors.Is(err, ErrMirrorBusy) {
		logger.Infof("[SyncRunner] Mirror %d skipped: %v", task.MirrorID, err)
		return nil
	}
	return err
}

// RunMirror pulls both projects of the mirror and then pushes to both.
// Aborted steps are logged and the remaining steps still run; their errors are joined.
func (s *SyncRunner) RunMirror(ctx context.Context, mirrorID uint) (*RunResult, error) {
	mirror, err := s.loadMirror(mirrorID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(mirror.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger.Info().Uint("mirror_id", mirror.ID).Str("mirror", mirror.Name).Msg("mirror run started")
	PublishRunEvent(mirror.ID, "started", "")

	result := &RunResult{MirrorID: mirror.ID}
	var errs []error
	sides := []*models.Project{mirror.Project, mirror.MirrorProject}

	for _, project := range sides {
		since, err := s.lastSuccessfulPull(mirror.ID, project.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		log, err := s.engine.Pull(ctx, project, mirror, since, nil)
		errs = append(errs, s.record(result, mirror, project, models.SyncTypePull, log, err))
	}

	for i, project := range sides {
		candidates, err := syncer.IssuesToPush(s.db, project, sides[1-i])
		if err != nil {
			errs = append(errs, fmt.Errorf("select issues for %s: %w", project.Name, err))
			continue
		}
		log, err := s.engine.Push(ctx, candidates, project, mirror)
		errs = append(errs, s.record(result, mirror, project, models.SyncTypePush, log, err))
	}

	now := time.Now()
	if err := s.db.Model(&models.Mirror{}).Where("id = ?", mirror.ID).UpdateColumn("last_run_at", now).Error; err != nil {
		errs = append(errs, err)
	}

	runErr := errors.Join(errs...)
	status := "finished"
	errMsg := ""
	if runErr != nil {
		status = "aborted"
		errMsg = runErr.Error()
	} else if result.Failed() {
		status = models.SyncStatusFinishedWithErrors
	}
	PublishRunEvent(mirror.ID, status, errMsg)
	logger.Info().Uint("mirror_id", mirror.ID).Str("status", status).Int("steps", len(result.Logs)).Msg("mirror run finished")

	return result, runErr
}

func (s *SyncRunner) loadMirror(mirrorID uint) (*models.Mirror, error) {
	var mirror models.Mirror
	if err := s.db.Preload("Project").Preload("MirrorProject").First(&mirror, mirrorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMirrorNotFound
		}
		return nil, err
	}
	if mirror.Project == nil || mirror.MirrorProject == nil {
		return nil, fmt.Errorf("mirror %d references a deleted project", mirror.ID)
	}
	return &mirror, nil
}

// lock takes the mirror lease and returns its release func.
func (s *SyncRunner) lock(mirrorID uint) (func(), error) {
	lease, err := s.locks.AcquireMirror(mirrorID, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if lease == nil {
		return nil, ErrMirrorBusy
	}
	return func() {
		if err := s.locks.Release(lease); err != nil {
			logger.Errorf("[SyncRunner] Failed to release lock of mirror %d: %v", mirrorID, err)
		}
	}, nil
}

// RunStep runs one Pull or Push of one project of the mirror under the mirror lock.
// A full Pull ignores the last successful Pull and fetches everything.
func (s *SyncRunner) RunStep(ctx context.Context, mirrorID, projectID uint, kind string, full bool) (*models.SyncLog, error) {
	mirror, err := s.loadMirror(mirrorID)
	if err != nil {
		return nil, err
	}
	var project, source *models.Project
	switch projectID {
	case mirror.ProjectID:
		project, source = mirror.Project, mirror.MirrorProject
	case mirror.MirrorProjectID:
		project, source = mirror.MirrorProject, mirror.Project
	default:
		return nil, fmt.Errorf("project %d is not part of mirror %d", projectID, mirror.ID)
	}

	release, err := s.lock(mirror.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var log *models.SyncLog
	switch kind {
	case models.SyncTypePull:
		var since *time.Time
		if !full {
			if since, err = s.lastSuccessfulPull(mirror.ID, project.ID); err != nil {
				return nil, err
			}
		}
		log, err = s.engine.Pull(ctx, project, mirror, since, nil)
	case models.SyncTypePush:
		var candidates []models.Issue
		if candidates, err = syncer.IssuesToPush(s.db, project, source); err != nil {
			return nil, fmt.Errorf("select issues for %s: %w", project.Name, err)
		}
		log, err = s.engine.Push(ctx, candidates, project, mirror)
	default:
		return nil, fmt.Errorf("unknown sync type %q", kind)
	}

	PublishSyncLogEvent(log)
	return log, err
}

func (s *SyncRunner) record(result *RunResult, mirror *models.Mirror, project *models.Project, kind string, log *models.SyncLog, err error) error {
	if log != nil {
		result.Logs = append(result.Logs, log)
		PublishSyncLogEvent(log)
	}
	if err == nil {
		return nil
	}

	extra := map[string]interface{}{"mirror_id": mirror.ID, "project_id": project.ID}
	if log != nil {
		extra["sync_log_id"] = log.ID
	}
	LogError("Sync", kind+" aborted",
		fmt.Sprintf("%s of %s for mirror %q aborted: %v", kind, project.Name, mirror.Name, err),
		nil, "", "", extra)
	return fmt.Errorf("%s %s: %w", kind, project.Name, err)
}

// pullOverlap widens the incremental window so edits stamped in the same
// second as the previous high mark are read again.
const pullOverlap = time.Minute

// lastSuccessfulPull is where the next incremental Pull of project starts:
// the newest remote update time seen by a clean Pull, minus pullOverlap.
// It is nil, meaning a full pull, until such a Pull has read an issue.
func (s *SyncRunner) lastSuccessfulPull(mirrorID, projectID uint) (*time.Time, error) {
	var last models.SyncLog
	err := s.db.Where("mirror_id = ? AND project_id = ? AND type = ? AND status = ? AND remote_updated_max IS NOT NULL",
		mirrorID, projectID, models.SyncTypePull, models.SyncStatusSuccess).
		Order("remote_updated_max DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find last pull: %w", err)
	}
	since := last.RemoteUpdatedMax.Add(-pullOverlap)
	return &since, nil
}

// RunAll runs every active mirror one after another.
func (s *SyncRunner) RunAll(ctx context.Context) ([]*RunResult, error) {
	var ids []uint
	if err := s.db.Model(&models.Mirror{}).Where("is_active = ?", true).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	var results []*RunResult
	var errs []error
	for _, id := range ids {
		result, err := s.RunMirror(ctx, id)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("mirror %d: %w", id, err))
		}
	}
	return results, errors.Join(errs...)
}

// PendingIssues lists, per project of the mirror, the local issues the next Push would send.
type PendingIssues struct {
	ProjectID   uint           `json:"project_id"`
	ProjectName string         `json:"project_name"`
	Issues      []models.Issue `json:"issues"`
}

func (s *SyncRunner) Pending(mirrorID uint) ([]PendingIssues, error) {
	mirror, err := s.loadMirror(mirrorID)
	if err != nil {
		return nil, err
	}

	var pending []PendingIssues
	for _, project := range []*models.Project{mirror.Project, mirror.MirrorProject} {
		issues, err := s.engine.Preview(project, mirror)
		if err != nil {
			return nil, err
		}
		pending = append(pending, PendingIssues{ProjectID: project.ID, ProjectName: project.Name, Issues: issues})
	}
	return pending, nil
}
