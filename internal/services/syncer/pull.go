package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

func (r *run) pull(updatedSince, createdSince *time.Time) error {
	sess, err := r.ownerSession(r.project.Server)
	if err != nil {
		return err
	}
	if _, err := sess.currentUser(r.ctx); err != nil {
		return err
	}

	remote, err := r.fetchAll(sess.gw, updatedSince, createdSince)
	if err != nil {
		return fmt.Errorf("list issues of %s: %w", r.project.Name, err)
	}
	r.logger.Debug().Int("issues", len(remote)).Msg("remote issues fetched")
	r.noteRemoteClock(remote)

	for i := range remote {
		if err := r.pullIssue(sess, &remote[i]); err != nil {
			r.fail("Error pulling to %s an issue \"%s\": %v", r.project.Name, remote[i].Subject, err)
			continue
		}
		r.log.Processed++
	}
	return nil
}

// noteRemoteClock keeps the newest remote update time on the log. The next
// incremental Pull starts from it.
func (r *run) noteRemoteClock(issues []tracker.Issue) {
	for i := range issues {
		if issues[i].UpdatedOn.IsZero() {
			continue
		}
		updatedOn := r.normalize(issues[i].UpdatedOn)
		if r.log.RemoteUpdatedMax == nil || updatedOn.After(*r.log.RemoteUpdatedMax) {
			r.log.RemoteUpdatedMax = &updatedOn
		}
	}
}

// fetchAll reads every page of the project's issue list before any of them
// is applied, so local writes cannot shift the remote pagination.
func (r *run) fetchAll(gw tracker.Gateway, updatedSince, createdSince *time.Time) ([]tracker.Issue, error) {
	var all []tracker.Issue
	offset := 0
	for {
		page, err := gw.ListIssues(r.ctx, tracker.IssueFilter{
			ProjectID:    r.project.ExtID,
			UpdatedSince: updatedSince,
			CreatedSince: createdSince,
			Offset:       offset,
			Limit:        r.pageSize,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Issues...)
		if len(page.Issues) == 0 || len(all) >= page.TotalCount {
			return all, nil
		}

		step := page.Limit
		if step <= 0 {
			step = len(page.Issues)
		}
		offset += step
	}
}

func (r *run) pullIssue(sess *session, brief *tracker.Issue) error {
	remote, err := sess.gw.GetIssue(r.ctx, brief.ID, tracker.IncludeJournals, tracker.IncludeAttachments)
	if err != nil {
		return err
	}

	local, mark, err := findByRemote(r.db, r.project.ID, remote.ID)
	if err != nil {
		return err
	}

	updatedOn := r.normalize(remote.UpdatedOn)
	switch {
	case local == nil:
		local, err = r.createFromRemote(sess, remote)
	case local.UpdatedAt.Before(updatedOn) && mark.UpdatedAt.Before(updatedOn):
		err = r.updateFromRemote(sess, local, mark, remote)
	default:
		r.logger.Debug().Int("ext_id", remote.ID).Msg("issue unchanged")
	}
	if err != nil {
		return err
	}

	if err := r.pullComments(sess, local, remote); err != nil {
		return err
	}
	return r.pullFiles(sess, local, remote)
}

// remoteFields resolves everything an issue write needs from the remote
// record. It runs outside of any transaction because it may call the tracker.
type remoteFields struct {
	authorID    uint
	assigneeID  *uint
	milestoneID *uint
	labels      map[models.LabelType]*models.Label
}

func (r *run) resolveRemote(sess *session, remote *tracker.Issue, owner *models.Project, withAuthor bool) (*remoteFields, error) {
	f := &remoteFields{}
	server := r.project.Server

	if withAuthor {
		author, err := r.users.Resolve(r.ctx, sess.gw, server.ID, remote.Author)
		if err != nil {
			return nil, fmt.Errorf("author: %w", err)
		}
		f.authorID = author.ID
	}

	if remote.AssignedTo != nil && remote.AssignedTo.ID != 0 {
		assignee, err := r.users.Resolve(r.ctx, sess.gw, server.ID, *remote.AssignedTo)
		if err != nil {
			return nil, fmt.Errorf("assignee: %w", err)
		}
		f.assigneeID = &assignee.ID
	} else {
		ownerID := r.mirror.OwnerID
		f.assigneeID = &ownerID
	}

	if remote.FixedVersion != nil && remote.FixedVersion.ID != 0 {
		milestone, err := ensureMilestone(r.db, r.project.ID, remote.FixedVersion)
		if err != nil {
			return nil, fmt.Errorf("milestone: %w", err)
		}
		f.milestoneID = &milestone.ID
	}

	labels, missing, err := r.resolveLabels(remote, owner)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	r.warnUnmatched(missing)
	f.labels = labels
	return f, nil
}

// resolveLabels maps the remote classification onto the label space of the
// owner project's server. A nil entry clears that type; an absent entry keeps
// whatever is attached.
func (r *run) resolveLabels(remote *tracker.Issue, owner *models.Project) (map[models.LabelType]*models.Label, []string, error) {
	resolved := make(map[models.LabelType]*models.Label, len(models.ClassifiedLabelTypes))
	var missing []string

	for _, t := range models.ClassifiedLabelTypes {
		ref := remote.Label(t)
		if ref == nil {
			resolved[t] = nil
			continue
		}
		label, err := ensureLabel(r.db, r.project.ServerID, t, ref)
		if err != nil {
			return nil, nil, err
		}
		local, err := r.labels.Resolve(label, owner)
		var gap *NotMatchedError
		if errors.As(err, &gap) {
			missing = append(missing, gap.Label)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		resolved[t] = local
	}
	return resolved, missing, nil
}

func (r *run) createFromRemote(sess *session, remote *tracker.Issue) (*models.Issue, error) {
	f, err := r.resolveRemote(sess, remote, r.project, true)
	if err != nil {
		return nil, err
	}

	updatedOn := r.normalize(remote.UpdatedOn)
	issue := &models.Issue{
		ProjectID:      r.project.ID,
		ExtID:          remote.ID,
		MilestoneID:    f.milestoneID,
		AuthorID:       f.authorID,
		AssigneeID:     f.assigneeID,
		Subject:        remote.Subject,
		Description:    remote.Description,
		EstimatedHours: remote.EstimatedHours,
		DoneRatio:      remote.DoneRatio,
		StartedAt:      r.day(remote.StartDate),
		FinishedAt:     r.day(remote.DueDate),
		Open:           true,
		UpdatedAt:      updatedOn,
	}
	if !remote.CreatedOn.IsZero() {
		issue.CreatedAt = r.normalize(remote.CreatedOn)
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Labels", "Comments", "Files").Create(issue).Error; err != nil {
			return err
		}
		mark := &models.SyncedIssue{
			IssueID:   issue.ID,
			ProjectID: r.project.ID,
			ExtID:     remote.ID,
			UpdatedAt: updatedOn,
		}
		if err := tx.Create(mark).Error; err != nil {
			return err
		}
		if err := attachLabels(tx, issue.ID, f.labels); err != nil {
			return err
		}
		return refreshOpen(tx, issue)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().Int("ext_id", remote.ID).Uint("issue_id", issue.ID).Msg("issue pulled")
	return issue, nil
}

func (r *run) updateFromRemote(sess *session, local *models.Issue, mark *models.SyncedIssue, remote *tracker.Issue) error {
	owner := local.Project
	if owner == nil {
		owner = r.project
	}
	f, err := r.resolveRemote(sess, remote, owner, false)
	if err != nil {
		return err
	}

	updatedOn := r.normalize(remote.UpdatedOn)
	err = r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Issue{}).Where("id = ?", local.ID).Updates(map[string]interface{}{
			"subject":         remote.Subject,
			"description":     remote.Description,
			"milestone_id":    f.milestoneID,
			"assignee_id":     f.assigneeID,
			"estimated_hours": remote.EstimatedHours,
			"done_ratio":      remote.DoneRatio,
			"started_at":      r.day(remote.StartDate),
			"finished_at":     r.day(remote.DueDate),
			"updated_at":      updatedOn,
		}).Error
		if err != nil {
			return err
		}
		if err := advanceIssueMark(tx, mark, updatedOn); err != nil {
			return err
		}
		if err := attachLabels(tx, local.ID, f.labels); err != nil {
			return err
		}
		return refreshOpen(tx, local)
	})
	if err != nil {
		return err
	}

	local.UpdatedAt = updatedOn
	r.logger.Info().Int("ext_id", remote.ID).Uint("issue_id", local.ID).Msg("issue updated from remote")
	return nil
}

// attachLabels replaces, per type, the labels attached to an issue.
func attachLabels(tx *gorm.DB, issueID uint, labels map[models.LabelType]*models.Label) error {
	for t, label := range labels {
		sameType := tx.Model(&models.Label{}).Select("id").Where("type = ?", t)
		if err := tx.Where("issue_id = ? AND label_id IN (?)", issueID, sameType).Delete(&models.IssueLabel{}).Error; err != nil {
			return err
		}
		if label == nil {
			continue
		}
		if err := tx.Create(&models.IssueLabel{IssueID: issueID, LabelID: label.ID}).Error; err != nil {
			return err
		}
	}
	return nil
}

// refreshOpen derives the open flag from the attached status label.
// Issues without a status are open.
func refreshOpen(tx *gorm.DB, issue *models.Issue) error {
	var status models.Label
	err := tx.Model(&models.Label{}).
		Joins("JOIN issue_labels il ON il.label_id = labels.id").
		Where("il.issue_id = ? AND labels.type = ?", issue.ID, models.LabelStatus).
		First(&status).Error
	open := true
	switch {
	case err == nil:
		open = !status.IsClosed
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	issue.Open = open
	return tx.Model(&models.Issue{}).Where("id = ?", issue.ID).UpdateColumn("open", open).Error
}

func ensureMilestone(db *gorm.DB, projectID uint, ref *tracker.Ref) (*models.Milestone, error) {
	var milestone models.Milestone
	err := db.Where("project_id = ? AND ext_id = ?", projectID, ref.ID).First(&milestone).Error
	if err == nil {
		if ref.Name != "" && ref.Name != milestone.Name {
			if err := db.Model(&milestone).Update("name", ref.Name).Error; err != nil {
				return nil, err
			}
			milestone.Name = ref.Name
		}
		return &milestone, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	milestone = models.Milestone{ProjectID: projectID, ExtID: ref.ID, Name: ref.Name}
	if err := db.Create(&milestone).Error; err != nil {
		return nil, err
	}
	return &milestone, nil
}
