package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
	"github.com/huangang/trackmirror/internal/utils"
	"gorm.io/gorm"
)

// IdentityResolver maps remote accounts to local users, creating the user and
// its credential the first time an account is seen on a server.
//
// Matching by name or email is best effort. Two people with the same name on
// different servers end up as one local user.
type IdentityResolver struct {
	db    *gorm.DB
	cache map[identityKey]*models.User
}

type identityKey struct {
	serverID uint
	extID    int
}

func NewIdentityResolver(db *gorm.DB) *IdentityResolver {
	return &IdentityResolver{db: db, cache: make(map[identityKey]*models.User)}
}

// Resolve returns the local user for the account ref on serverID. gw is used
// to fetch the profile of accounts not seen before.
func (r *IdentityResolver) Resolve(ctx context.Context, gw tracker.Gateway, serverID uint, ref tracker.Ref) (*models.User, error) {
	if ref.ID == 0 {
		return nil, fmt.Errorf("empty remote user reference")
	}
	key := identityKey{serverID: serverID, extID: ref.ID}
	if user, ok := r.cache[key]; ok {
		return user, nil
	}

	user, err := r.linked(serverID, ref.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user, err = r.link(ctx, gw, serverID, ref)
		if err != nil {
			return nil, err
		}
	}
	r.cache[key] = user
	return user, nil
}

func (r *IdentityResolver) linked(serverID uint, extID int) (*models.User, error) {
	var cred models.Credential
	err := r.db.Where("server_id = ? AND ext_id = ?", serverID, extID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := r.db.Unscoped().First(&user, cred.UserID).Error; err != nil {
		return nil, fmt.Errorf("credential %d: %w", cred.ID, err)
	}
	return &user, nil
}

func (r *IdentityResolver) link(ctx context.Context, gw tracker.Gateway, serverID uint, ref tracker.Ref) (*models.User, error) {
	profile, err := gw.GetUser(ctx, ref.ID)
	if errors.Is(err, tracker.ErrNotFound) {
		// Locked and deleted accounts are not readable; the reference still carries a name.
		profile = &tracker.User{ID: ref.ID, Firstname: ref.Name}
	} else if err != nil {
		return nil, fmt.Errorf("fetch user %d: %w", ref.ID, err)
	}

	name := profile.DisplayName()
	if name == "" {
		name = ref.Name
	}
	mail := strings.TrimSpace(profile.Mail)

	var user models.User
	err = r.db.Transaction(func(tx *gorm.DB) error {
		found, err := matchUser(tx, serverID, name, mail)
		if err != nil {
			return err
		}

		if found != nil {
			user = *found
			if user.Email == "" && mail != "" {
				if err := tx.Model(&user).Update("email", mail).Error; err != nil {
					return err
				}
				user.Email = mail
			}
		} else {
			username, err := freeUsername(tx, serverID, ref.ID, profile.Login, name)
			if err != nil {
				return err
			}
			user = models.User{
				Username: username,
				Password: utils.UnusablePassword(),
				Email:    mail,
				Name:     name,
				Role:     "user",
				AuthType: "remote",
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		}

		return tx.Create(&models.Credential{
			UserID:   user.ID,
			ServerID: serverID,
			ExtID:    ref.ID,
			Username: profile.Login,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("link user %d: %w", ref.ID, err)
	}
	return &user, nil
}

// matchUser finds a local user by email or exact name. Users already linked to
// another account of the same server are not candidates.
func matchUser(tx *gorm.DB, serverID uint, name, mail string) (*models.User, error) {
	if name == "" && mail == "" {
		return nil, nil
	}

	q := tx.Model(&models.User{})
	switch {
	case mail != "" && name != "":
		q = q.Where("(email = ? OR name = ?)", mail, name)
	case mail != "":
		q = q.Where("email = ?", mail)
	default:
		q = q.Where("name = ?", name)
	}
	q = q.Where("NOT EXISTS (SELECT 1 FROM credentials c WHERE c.user_id = users.id AND c.server_id = ?)", serverID)

	var user models.User
	err := q.Order("id").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func freeUsername(tx *gorm.DB, serverID uint, extID int, login, name string) (string, error) {
	fallback := fmt.Sprintf("user-%d-%d", serverID, extID)
	for _, candidate := range []string{strings.TrimSpace(login), slug(name), fallback} {
		if candidate == "" {
			continue
		}
		var count int64
		if err := tx.Unscoped().Model(&models.User{}).Where("username = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%d-%d", slug(name+" "+login), serverID, extID), nil
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
