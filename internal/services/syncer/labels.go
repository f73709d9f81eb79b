package syncer

import (
	"errors"
	"fmt"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

// LabelTranslator maps labels between the label spaces of a mirror's two servers.
//
// Labels already living on the target server resolve to themselves. Otherwise
// the mirror's rule for the direction into the target must exist, and the
// label it yields must itself map back through the opposite direction.
type LabelTranslator struct {
	db     *gorm.DB
	mirror *models.Mirror
	rules  map[models.RuleDirection]map[uint]uint
}

func NewLabelTranslator(db *gorm.DB, mirror *models.Mirror) *LabelTranslator {
	return &LabelTranslator{db: db, mirror: mirror}
}

// NotMatchedError reports a label without a usable mapping.
type NotMatchedError struct {
	Label string
}

func (e *NotMatchedError) Error() string {
	return fmt.Sprintf("not matched label: %s", e.Label)
}

func (t *LabelTranslator) load() error {
	if t.rules != nil {
		return nil
	}
	var rules []models.MirrorLabelRule
	if err := t.db.Where("mirror_id = ?", t.mirror.ID).Find(&rules).Error; err != nil {
		return err
	}
	t.rules = map[models.RuleDirection]map[uint]uint{
		models.LeftToRight: {},
		models.RightToLeft: {},
	}
	for _, r := range rules {
		t.rules[r.Direction][r.SourceLabelID] = r.TargetLabelID
	}
	return nil
}

// Resolve returns the label of target's server standing for label.
// A missing mapping is reported as *NotMatchedError.
func (t *LabelTranslator) Resolve(label *models.Label, target *models.Project) (*models.Label, error) {
	if label.ServerID == target.ServerID {
		return label, nil
	}
	if err := t.load(); err != nil {
		return nil, err
	}

	dir := t.mirror.DirectionInto(target.ID)
	targetID, ok := t.rules[dir][label.ID]
	if !ok {
		return nil, &NotMatchedError{Label: label.Name}
	}
	if _, ok := t.rules[dir.Opposite()][targetID]; !ok {
		return nil, &NotMatchedError{Label: label.Name}
	}

	var resolved models.Label
	err := t.db.Where("id = ? AND server_id = ?", targetID, target.ServerID).First(&resolved).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotMatchedError{Label: label.Name}
	}
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

// ExtID resolves label onto target and returns the remote id to send.
func (t *LabelTranslator) ExtID(label *models.Label, target *models.Project) (int, error) {
	resolved, err := t.Resolve(label, target)
	if err != nil {
		return 0, err
	}
	return resolved.ExtID, nil
}

// ensureLabel returns the label (serverID, typ, ref.ID), creating it from ref
// the first time it is seen. The closed flag is only taken on creation.
func ensureLabel(db *gorm.DB, serverID uint, typ models.LabelType, ref *tracker.Ref) (*models.Label, error) {
	var label models.Label
	err := db.Where("server_id = ? AND type = ? AND ext_id = ?", serverID, typ, ref.ID).First(&label).Error
	if err == nil {
		if ref.Name != "" && ref.Name != label.Name {
			label.Name = ref.Name
			if err := db.Model(&label).Update("name", ref.Name).Error; err != nil {
				return nil, err
			}
		}
		return &label, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	label = models.Label{
		ServerID: serverID,
		Type:     typ,
		ExtID:    ref.ID,
		Name:     ref.Name,
		IsClosed: ref.IsClosed,
	}
	if label.Name == "" {
		label.Name = fmt.Sprintf("%s #%d", typ, ref.ID)
	}
	if err := db.Create(&label).Error; err != nil {
		return nil, err
	}
	return &label, nil
}
