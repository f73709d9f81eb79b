package syncer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

// push aborts only when the owner's own key is refused. A rejected author
// key or a denied write fails that item.
func (r *run) push(candidates []models.Issue) error {
	if len(candidates) == 0 {
		return nil
	}
	owner, err := r.ownerSession(r.project.Server)
	if err != nil {
		return err
	}
	if _, err := owner.currentUser(r.ctx); err != nil {
		return err
	}

	seen := make(map[uint]bool, len(candidates))
	for _, candidate := range candidates {
		if seen[candidate.ID] {
			continue
		}
		seen[candidate.ID] = true

		issue, err := r.loadIssue(candidate.ID)
		if err != nil {
			r.fail("Error pushing to %s an issue \"%s\": %v", r.project.Name, candidate.Subject, err)
			continue
		}
		if err := r.pushIssue(issue); err != nil {
			r.fail("Error pushing to %s an issue \"%s\": %v", r.project.Name, issue.Subject, err)
			continue
		}
		r.log.Processed++
	}
	return nil
}

func (r *run) loadIssue(id uint) (*models.Issue, error) {
	var issue models.Issue
	err := r.db.
		Preload("Labels").
		Preload("Project.Server").
		Preload("Milestone").
		Preload("Author").
		Preload("Assignee").
		First(&issue, id).Error
	if err != nil {
		return nil, err
	}
	if issue.ProjectID != r.project.ID && issue.ProjectID != r.source.ID {
		return nil, fmt.Errorf("issue %d belongs to neither side of mirror %d", issue.ID, r.mirror.ID)
	}
	return &issue, nil
}

func (r *run) pushIssue(issue *models.Issue) error {
	sess, _, err := r.sessionFor(issue.AuthorID, r.project.Server)
	if err != nil {
		return err
	}
	account, err := sess.currentUser(r.ctx)
	if err != nil {
		return err
	}

	mark, err := issueMark(r.db, issue.ID, r.project.ID)
	if err != nil {
		return err
	}

	attrs, missing, err := r.attributes(issue, account, mark == nil)
	if err != nil {
		return err
	}
	r.warnUnmatched(missing)

	remoteID := 0
	switch {
	case mark != nil:
		remoteID = mark.ExtID
	case issue.ProjectID == r.project.ID && issue.ExtID != 0:
		remoteID = issue.ExtID
	}

	if remoteID == 0 {
		mark, err = r.createRemote(sess, issue, attrs)
	} else {
		mark, err = r.updateRemote(sess, account, issue, mark, remoteID, attrs)
	}
	if err != nil {
		return err
	}

	comments, err := r.pushComments(issue, mark)
	if err != nil {
		return err
	}
	files, err := r.pushFiles(issue, mark)
	if err != nil {
		return err
	}
	if comments+files > 0 {
		fetched, err := sess.gw.GetIssue(r.ctx, mark.ExtID)
		if err != nil {
			return err
		}
		if err := advanceIssueMark(r.db, mark, r.normalize(fetched.UpdatedOn)); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) createRemote(sess *session, issue *models.Issue, attrs *tracker.IssueAttributes) (*models.SyncedIssue, error) {
	created, err := sess.gw.CreateIssue(r.ctx, attrs)
	if err != nil {
		return nil, sess.check(err)
	}

	mark := &models.SyncedIssue{
		IssueID:   issue.ID,
		ProjectID: r.project.ID,
		ExtID:     created.ID,
		UpdatedAt: r.normalize(created.UpdatedOn),
	}
	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(mark).Error; err != nil {
			return err
		}
		if issue.ProjectID == r.project.ID && issue.ExtID == 0 {
			issue.ExtID = created.ID
			return tx.Model(&models.Issue{}).Where("id = ?", issue.ID).UpdateColumn("ext_id", created.ID).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().Uint("issue_id", issue.ID).Int("ext_id", created.ID).Msg("issue created on remote")
	return mark, nil
}

func (r *run) updateRemote(sess *session, account *tracker.User, issue *models.Issue, mark *models.SyncedIssue, remoteID int, attrs *tracker.IssueAttributes) (*models.SyncedIssue, error) {
	if err := sess.gw.UpdateIssue(r.ctx, remoteID, attrs); err != nil {
		return nil, sess.check(err)
	}
	// Updates return no body; the new timestamp comes from a re-fetch.
	fetched, err := sess.gw.GetIssue(r.ctx, remoteID, tracker.IncludeJournals)
	if err != nil {
		return nil, err
	}
	if err := r.markEcho(fetched, account); err != nil {
		return nil, err
	}
	updatedOn := r.normalize(fetched.UpdatedOn)

	if mark == nil {
		mark = &models.SyncedIssue{
			IssueID:   issue.ID,
			ProjectID: r.project.ID,
			ExtID:     remoteID,
			UpdatedAt: updatedOn,
		}
		if err := r.db.Create(mark).Error; err != nil {
			return nil, err
		}
	} else if err := advanceIssueMark(r.db, mark, updatedOn); err != nil {
		return nil, err
	}

	r.logger.Info().Uint("issue_id", issue.ID).Int("ext_id", remoteID).Msg("issue updated on remote")
	return mark, nil
}

// markEcho records the change journal our update just left, so the next Pull
// of this project does not narrate it back as a comment. Pull runs before
// Push, so an unmarked note-less entry of ours on top is that update.
func (r *run) markEcho(fetched *tracker.Issue, account *tracker.User) error {
	if len(fetched.Journals) == 0 {
		return nil
	}
	j := fetched.Journals[len(fetched.Journals)-1]
	if j.User.ID != account.ID || strings.TrimSpace(j.Notes) != "" || len(j.Details) == 0 {
		return nil
	}
	seen, err := commentMarked(r.db, r.project.ID, j.ID)
	if err != nil || seen {
		return err
	}
	return r.db.Create(&models.EchoJournal{ProjectID: r.project.ID, ExtID: j.ID}).Error
}

// attributes builds the remote write for issue. Unmapped labels are returned
// by name and left out of the write.
func (r *run) attributes(issue *models.Issue, account *tracker.User, first bool) (*tracker.IssueAttributes, []string, error) {
	target := r.project
	doneRatio := issue.DoneRatio
	authorID := account.ID

	attrs := &tracker.IssueAttributes{
		ProjectID:      target.ExtID,
		Subject:        issue.Subject,
		Description:    issue.Description,
		EstimatedHours: issue.EstimatedHours,
		DoneRatio:      &doneRatio,
		AuthorID:       &authorID,
		StartDate:      r.date(issue.StartedAt),
		DueDate:        r.date(issue.FinishedAt),
	}

	milestoneID, err := r.milestoneExtID(issue)
	if err != nil {
		return nil, nil, err
	}
	attrs.FixedVersionID = milestoneID

	if ext, ok := r.assigneeExtID(issue); ok {
		attrs.AssignedToID = &ext
	}

	var missing []string
	for _, t := range models.ClassifiedLabelTypes {
		label := issue.Label(t)
		if label == nil {
			continue
		}
		ext, err := r.labels.ExtID(label, target)
		var gap *NotMatchedError
		if errors.As(err, &gap) {
			missing = append(missing, gap.Label)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		attrs.SetLabel(t, ext)
	}

	if first && r.backlinkFieldID > 0 && issue.ProjectID != target.ID && issue.ExtID != 0 && issue.Project != nil && issue.Project.Server != nil {
		attrs.CustomFields = append(attrs.CustomFields, tracker.CustomField{
			ID:    r.backlinkFieldID,
			Value: issue.Project.Server.IssueURL(issue.ExtID),
		})
	}
	return attrs, missing, nil
}

// milestoneExtID uses the issue's own milestone when it lives in the target
// project, otherwise the milestone configured on the mirror for that side.
func (r *run) milestoneExtID(issue *models.Issue) (*int, error) {
	if issue.Milestone != nil && issue.Milestone.ProjectID == r.project.ID {
		ext := issue.Milestone.ExtID
		return &ext, nil
	}

	id := r.mirror.MilestoneFor(r.project.ID)
	if id == nil {
		return nil, nil
	}
	var milestone models.Milestone
	err := r.db.Where("id = ? AND project_id = ?", *id, r.project.ID).First(&milestone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &milestone.ExtID, nil
}

// assigneeExtID falls back to the mirror owner's account when the assignee
// has none on the target server.
func (r *run) assigneeExtID(issue *models.Issue) (int, bool) {
	if issue.AssigneeID != nil {
		if ext, ok := r.accountExtID(*issue.AssigneeID, r.project.ServerID); ok {
			return ext, true
		}
	}
	return r.accountExtID(r.mirror.OwnerID, r.project.ServerID)
}
