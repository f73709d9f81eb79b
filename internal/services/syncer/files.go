package syncer

import (
	"fmt"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/storage"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

// pullFiles downloads attachments not yet seen in this project. Known
// attachments only get their name and description refreshed.
func (r *run) pullFiles(sess *session, issue *models.Issue, remote *tracker.Issue) error {
	for i := range remote.Attachments {
		a := &remote.Attachments[i]
		if err := r.pullFile(sess, issue, a); err != nil {
			r.fail("Error pulling file \"%s\" of issue \"%s\": %v", a.Filename, issue.Subject, err)
		}
	}
	return nil
}

func (r *run) pullFile(sess *session, issue *models.Issue, a *tracker.Attachment) error {
	mark, err := fileMark(r.db, r.project.ID, a.ID)
	if err != nil {
		return err
	}
	if mark != nil {
		return r.db.Model(&models.IssueFile{}).Where("id = ?", mark.FileID).Updates(map[string]interface{}{
			"name":        a.Filename,
			"description": a.Description,
		}).Error
	}

	author, err := r.users.Resolve(r.ctx, sess.gw, r.project.ServerID, a.Author)
	if err != nil {
		return err
	}
	data, err := sess.gw.Download(r.ctx, a)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	key := storage.NewKey(a.Filename)
	if err := r.blobs.Put(r.ctx, key, data); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		file := &models.IssueFile{
			IssueID:     issue.ID,
			AuthorID:    author.ID,
			Name:        a.Filename,
			Description: a.Description,
			Path:        key,
			Size:        int64(len(data)),
			ExtID:       a.ID,
		}
		if err := tx.Create(file).Error; err != nil {
			return err
		}
		return tx.Create(&models.SyncedFile{
			FileID:    file.ID,
			ProjectID: r.project.ID,
			ExtID:     a.ID,
			UpdatedAt: r.normalize(a.CreatedOn),
		}).Error
	})
}

// pushFiles uploads files the target project has not seen and reports how
// many were sent.
func (r *run) pushFiles(issue *models.Issue, mark *models.SyncedIssue) (int, error) {
	var files []models.IssueFile
	err := r.db.
		Where("issue_id = ?", issue.ID).
		Where("NOT EXISTS (SELECT 1 FROM synced_files sf WHERE sf.file_id = issue_files.id AND sf.project_id = ?)", r.project.ID).
		Order("id").
		Find(&files).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range files {
		f := &files[i]
		if err := r.pushFile(f, mark); err != nil {
			r.fail("Error pushing file \"%s\" of issue \"%s\" to %s: %v", f.Name, issue.Subject, r.project.Name, err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (r *run) pushFile(f *models.IssueFile, mark *models.SyncedIssue) error {
	sess, _, err := r.sessionFor(f.AuthorID, r.project.Server)
	if err != nil {
		return err
	}

	data, err := r.blobs.Get(r.ctx, f.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Path, err)
	}
	token, err := sess.gw.Upload(r.ctx, data)
	if err != nil {
		return fmt.Errorf("upload: %w", sess.check(err))
	}
	err = sess.gw.Attach(r.ctx, mark.ExtID, tracker.Upload{
		Token:       token,
		Filename:    f.Name,
		Description: f.Description,
	})
	if err != nil {
		return fmt.Errorf("attach: %w", sess.check(err))
	}

	fetched, err := sess.gw.GetIssue(r.ctx, mark.ExtID, tracker.IncludeAttachments)
	if err != nil {
		return err
	}
	attachment := newestAttachment(fetched.Attachments, f.Name)
	if attachment == nil {
		return fmt.Errorf("attachment not found on remote issue %d", mark.ExtID)
	}

	return r.db.Create(&models.SyncedFile{
		FileID:    f.ID,
		ProjectID: r.project.ID,
		ExtID:     attachment.ID,
		UpdatedAt: r.normalize(attachment.CreatedOn),
	}).Error
}

func newestAttachment(attachments []tracker.Attachment, name string) *tracker.Attachment {
	for i := len(attachments) - 1; i >= 0; i-- {
		if attachments[i].Filename == name {
			return &attachments[i]
		}
	}
	if len(attachments) == 0 {
		return nil
	}
	return &attachments[len(attachments)-1]
}
