package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
	"github.com/huangang/trackmirror/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// run is the state of one Pull or Push. Everything inside a run is sequential.
type run struct {
	*Engine
	ctx     context.Context
	mirror  *models.Mirror
	project *models.Project
	source  *models.Project
	log     *models.SyncLog
	logger  zerolog.Logger

	labels   *LabelTranslator
	users    *IdentityResolver
	sessions map[uint]*session
}

// session is a gateway opened with one credential. Once the tracker rejects
// the key, the session keeps failing with that error without calling out.
type session struct {
	gw       tracker.Gateway
	cred     *models.Credential
	account  *tracker.User
	rejected error
}

func (s *session) currentUser(ctx context.Context) (*tracker.User, error) {
	if s.rejected != nil {
		return nil, s.rejected
	}
	if s.account != nil {
		return s.account, nil
	}
	account, err := s.gw.CurrentUser(ctx)
	if err != nil {
		if tracker.IsAccessError(err) {
			s.rejected = err
		}
		return nil, err
	}
	s.account = account
	return account, nil
}

// check remembers a 401 from a write. A 403 only concerns that one write.
func (s *session) check(err error) error {
	var denied *tracker.AccessError
	if errors.As(err, &denied) && denied.Status == http.StatusUnauthorized {
		s.rejected = err
	}
	return err
}

func (e *Engine) begin(ctx context.Context, kind string, project *models.Project, mirror *models.Mirror) (*run, error) {
	if project.ID != mirror.ProjectID && project.ID != mirror.MirrorProjectID {
		return nil, fmt.Errorf("project %d is not part of mirror %d", project.ID, mirror.ID)
	}

	var target, source models.Project
	if err := e.db.Preload("Server").First(&target, project.ID).Error; err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if err := e.db.Preload("Server").First(&source, mirror.Counterpart(project.ID)).Error; err != nil {
		return nil, fmt.Errorf("load counterpart project: %w", err)
	}

	entry := &models.SyncLog{
		MirrorID:  mirror.ID,
		ProjectID: target.ID,
		Type:      kind,
		Status:    models.SyncStatusInProcess,
		StartedAt: e.now(),
	}
	if err := e.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	r := &run{
		Engine:   e,
		ctx:      ctx,
		mirror:   mirror,
		project:  &target,
		source:   &source,
		log:      entry,
		logger:   logger.ForRun(mirror.ID, kind, target.ID).With().Uint("sync_log_id", entry.ID).Logger(),
		labels:   NewLabelTranslator(e.db, mirror),
		users:    NewIdentityResolver(e.db),
		sessions: make(map[uint]*session),
	}
	r.logger.Info().Str("project", target.Name).Msg("sync run started")
	return r, nil
}

// fail records a message on the run's error list and the process log.
func (r *run) fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Error().Msg(msg)

	r.log.ErrorCount++
	if err := r.db.Create(&models.SyncLogError{SyncLogID: r.log.ID, Message: msg}).Error; err != nil {
		r.logger.Error().Err(err).Msg("failed to persist sync error")
	}
	r.db.Model(&models.SyncLog{}).Where("id = ?", r.log.ID).Update("error_count", r.log.ErrorCount)
}

// warnUnmatched records a label mapping gap. The affected field is omitted.
func (r *run) warnUnmatched(names []string) {
	for _, name := range names {
		msg := (&NotMatchedError{Label: name}).Error()
		r.logger.Warn().Str("label", name).Msg("label mapping gap")
		r.log.ErrorCount++
		if err := r.db.Create(&models.SyncLogError{SyncLogID: r.log.ID, Message: msg}).Error; err != nil {
			r.logger.Error().Err(err).Msg("failed to persist sync error")
		}
	}
	if len(names) > 0 {
		r.db.Model(&models.SyncLog{}).Where("id = ?", r.log.ID).Update("error_count", r.log.ErrorCount)
	}
}

func (r *run) finish() {
	r.log.Status = models.SyncStatusSuccess
	if r.log.ErrorCount > 0 {
		r.log.Status = models.SyncStatusFinishedWithErrors
	}
	finished := r.now()
	r.log.FinishedAt = &finished

	updates := map[string]interface{}{
		"status":      r.log.Status,
		"processed":   r.log.Processed,
		"error_count": r.log.ErrorCount,
		"finished_at": finished,
	}
	if r.log.RemoteUpdatedMax != nil {
		updates["remote_updated_max"] = *r.log.RemoteUpdatedMax
	}
	err := r.db.Model(&models.SyncLog{}).Where("id = ?", r.log.ID).Updates(updates).Error
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to finalize sync log")
	}

	r.logger.Info().
		Str("status", r.log.Status).
		Int("processed", r.log.Processed).
		Int("errors", r.log.ErrorCount).
		Msg("sync run finished")
}

// sessionFor opens a gateway on server acting as userID, or as the mirror
// owner when the user has no usable credential there. asOwner reports the
// fallback.
func (r *run) sessionFor(userID uint, server *models.Server) (sess *session, asOwner bool, err error) {
	cred, err := r.apiCredential(userID, server.ID)
	if err != nil {
		return nil, false, err
	}
	if cred == nil && userID != r.mirror.OwnerID {
		asOwner = true
		cred, err = r.apiCredential(r.mirror.OwnerID, server.ID)
		if err != nil {
			return nil, false, err
		}
	}
	if cred == nil {
		return nil, false, fmt.Errorf("%w %s", ErrNoOwnerCredential, server.Name)
	}

	if cached, ok := r.sessions[cred.ID]; ok {
		if cached.rejected != nil {
			return nil, false, cached.rejected
		}
		return cached, asOwner, nil
	}
	gw, err := r.connector.Connect(tracker.Endpoint{
		Driver:  server.Driver,
		BaseURI: server.BaseURI,
		APIKey:  cred.APIKey,
	})
	if err != nil {
		return nil, false, err
	}
	sess = &session{gw: gw, cred: cred}
	r.sessions[cred.ID] = sess
	return sess, asOwner, nil
}

func (r *run) ownerSession(server *models.Server) (*session, error) {
	sess, _, err := r.sessionFor(r.mirror.OwnerID, server)
	return sess, err
}

func (r *run) apiCredential(userID, serverID uint) (*models.Credential, error) {
	var cred models.Credential
	err := r.db.Where("user_id = ? AND server_id = ? AND api_key <> ''", userID, serverID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// accountExtID returns the remote id of userID on serverID, if known.
func (r *run) accountExtID(userID, serverID uint) (int, bool) {
	var cred models.Credential
	if err := r.db.Where("user_id = ? AND server_id = ?", userID, serverID).First(&cred).Error; err != nil {
		return 0, false
	}
	return cred.ExtID, true
}
