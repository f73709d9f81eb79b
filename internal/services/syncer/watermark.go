package syncer

import (
	"errors"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
)

// findByRemote returns the local issue mirrored as extID in project, with its
// watermark for that project. Both are nil when the remote issue is unknown.
func findByRemote(db *gorm.DB, projectID uint, extID int) (*models.Issue, *models.SyncedIssue, error) {
	var mark models.SyncedIssue
	err := db.Where("project_id = ? AND ext_id = ?", projectID, extID).First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var issue models.Issue
	if err := db.Preload("Labels").Preload("Project").First(&issue, mark.IssueID).Error; err != nil {
		return nil, nil, err
	}
	return &issue, &mark, nil
}

func issueMark(db *gorm.DB, issueID, projectID uint) (*models.SyncedIssue, error) {
	var mark models.SyncedIssue
	err := db.Where("issue_id = ? AND project_id = ?", issueID, projectID).First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mark, nil
}

// advanceIssueMark moves the watermark forward to at. It never moves backwards.
func advanceIssueMark(db *gorm.DB, mark *models.SyncedIssue, at time.Time) error {
	if !mark.UpdatedAt.Before(at) {
		return nil
	}
	err := db.Model(&models.SyncedIssue{}).
		Where("id = ? AND updated_at < ?", mark.ID, at).
		Update("updated_at", at).Error
	if err != nil {
		return err
	}
	mark.UpdatedAt = at
	return nil
}

// commentMarked reports whether journal extID of projectID is already a
// comment or is the echo of one of our own updates.
func commentMarked(db *gorm.DB, projectID uint, extID int) (bool, error) {
	for _, model := range []interface{}{&models.SyncedComment{}, &models.EchoJournal{}} {
		var count int64
		err := db.Model(model).
			Where("project_id = ? AND ext_id = ?", projectID, extID).
			Count(&count).Error
		if err != nil || count > 0 {
			return count > 0, err
		}
	}
	return false, nil
}

func fileMark(db *gorm.DB, projectID uint, extID int) (*models.SyncedFile, error) {
	var mark models.SyncedFile
	err := db.Where("project_id = ? AND ext_id = ?", projectID, extID).First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mark, nil
}

// predicate narrows an issues query.
type predicate func(*gorm.DB) *gorm.DB

// hasNoWatermarkFor matches issues never synchronized to project.
func hasNoWatermarkFor(projectID uint) predicate {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("NOT EXISTS (SELECT 1 FROM synced_issues si WHERE si.issue_id = issues.id AND si.project_id = ?)", projectID)
	}
}

// watermarkOlderThanEntity matches issues changed locally after their last
// synchronization with project.
func watermarkOlderThanEntity(projectID uint) predicate {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("EXISTS (SELECT 1 FROM synced_issues si WHERE si.issue_id = issues.id AND si.project_id = ? AND si.updated_at < issues.updated_at)", projectID)
	}
}

func rowsWhere(db *gorm.DB, ownerID uint, pred predicate) ([]models.Issue, error) {
	var issues []models.Issue
	q := db.Model(&models.Issue{}).Where("issues.project_id = ?", ownerID)
	err := pred(q).Order("issues.id").Find(&issues).Error
	return issues, err
}

// IssuesToPush lists the issues that must be written to target: issues owned
// by target or source whose target watermark is stale, then those with none.
// An issue appears at most once per case; callers must tolerate repeats.
func IssuesToPush(db *gorm.DB, target, source *models.Project) ([]models.Issue, error) {
	var out []models.Issue
	for _, pred := range []predicate{watermarkOlderThanEntity(target.ID), hasNoWatermarkFor(target.ID)} {
		for _, owner := range []uint{target.ID, source.ID} {
			rows, err := rowsWhere(db, owner, pred)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
	}
	return out, nil
}
