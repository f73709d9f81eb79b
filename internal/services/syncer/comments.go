package syncer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

const attributionPrefix = "Comment author: "

// pullComments stores journal entries not yet seen in this project.
func (r *run) pullComments(sess *session, issue *models.Issue, remote *tracker.Issue) error {
	for i := range remote.Journals {
		j := &remote.Journals[i]
		body := journalText(j, r)
		if body == "" {
			continue
		}

		seen, err := commentMarked(r.db, r.project.ID, j.ID)
		if err != nil {
			r.fail("Error pulling comment #%d of issue \"%s\": %v", j.ID, issue.Subject, err)
			continue
		}
		if seen {
			continue
		}

		author, err := r.users.Resolve(r.ctx, sess.gw, r.project.ServerID, j.User)
		if err != nil {
			r.fail("Error pulling comment #%d of issue \"%s\": %v", j.ID, issue.Subject, err)
			continue
		}

		err = r.db.Transaction(func(tx *gorm.DB) error {
			comment := &models.IssueComment{
				IssueID:  issue.ID,
				AuthorID: author.ID,
				Body:     body,
				ExtID:    j.ID,
			}
			if !j.CreatedOn.IsZero() {
				comment.CreatedAt = r.normalize(j.CreatedOn)
			}
			if err := tx.Create(comment).Error; err != nil {
				return err
			}
			return tx.Create(&models.SyncedComment{
				CommentID: comment.ID,
				ProjectID: r.project.ID,
				ExtID:     j.ID,
				UpdatedAt: r.normalize(j.CreatedOn),
			}).Error
		})
		if err != nil {
			r.fail("Error pulling comment #%d of issue \"%s\": %v", j.ID, issue.Subject, err)
		}
	}
	return nil
}

// pushComments sends comments that the target project has not seen as notes.
// It reports how many were sent.
func (r *run) pushComments(issue *models.Issue, mark *models.SyncedIssue) (int, error) {
	var comments []models.IssueComment
	err := r.db.Preload("Author").
		Where("issue_id = ?", issue.ID).
		Where("NOT EXISTS (SELECT 1 FROM synced_comments sc WHERE sc.comment_id = issue_comments.id AND sc.project_id = ?)", r.project.ID).
		Order("id").
		Find(&comments).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range comments {
		c := &comments[i]
		if err := r.pushComment(c, mark); err != nil {
			r.fail("Error pushing comment %d of issue \"%s\" to %s: %v", c.ID, issue.Subject, r.project.Name, err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (r *run) pushComment(c *models.IssueComment, mark *models.SyncedIssue) error {
	sess, asOwner, err := r.sessionFor(c.AuthorID, r.project.Server)
	if err != nil {
		return err
	}

	notes := c.Body
	if asOwner {
		notes += "\n" + attributionPrefix + authorName(c.Author)
	}
	if err := sess.gw.AddNote(r.ctx, mark.ExtID, notes); err != nil {
		return sess.check(err)
	}

	// Notes updates return no id; the entry is recovered from the journal list.
	fetched, err := sess.gw.GetIssue(r.ctx, mark.ExtID, tracker.IncludeJournals)
	if err != nil {
		return err
	}
	journal := newestJournal(fetched.Journals, notes)
	if journal == nil {
		return fmt.Errorf("note not found on remote issue %d", mark.ExtID)
	}

	return r.db.Create(&models.SyncedComment{
		CommentID: c.ID,
		ProjectID: r.project.ID,
		ExtID:     journal.ID,
		UpdatedAt: r.normalize(journal.CreatedOn),
	}).Error
}

// newestJournal picks the latest entry carrying notes, falling back to the
// latest entry. Another writer adding a note in between can still be picked.
func newestJournal(journals []tracker.Journal, notes string) *tracker.Journal {
	want := strings.TrimSpace(notes)
	for i := len(journals) - 1; i >= 0; i-- {
		if strings.TrimSpace(journals[i].Notes) == want {
			return &journals[i]
		}
	}
	if len(journals) == 0 {
		return nil
	}
	return &journals[len(journals)-1]
}

func authorName(u *models.User) string {
	if u == nil {
		return "unknown"
	}
	return u.DisplayName()
}

// namer lookups against the pulled project's server.

func (r *run) labelName(t models.LabelType, extID string) string {
	id, err := strconv.Atoi(extID)
	if err != nil {
		return extID
	}
	var label models.Label
	if err := r.db.Where("server_id = ? AND type = ? AND ext_id = ?", r.project.ServerID, t, id).First(&label).Error; err != nil {
		return extID
	}
	return label.Name
}

func (r *run) userName(extID string) string {
	id, err := strconv.Atoi(extID)
	if err != nil {
		return extID
	}
	var cred models.Credential
	if err := r.db.Preload("User").Where("server_id = ? AND ext_id = ?", r.project.ServerID, id).First(&cred).Error; err != nil || cred.User == nil {
		return extID
	}
	return cred.User.DisplayName()
}

func (r *run) milestoneName(extID string) string {
	id, err := strconv.Atoi(extID)
	if err != nil {
		return extID
	}
	var milestone models.Milestone
	if err := r.db.Where("project_id = ? AND ext_id = ?", r.project.ID, id).First(&milestone).Error; err != nil || milestone.Name == "" {
		return extID
	}
	return milestone.Name
}
