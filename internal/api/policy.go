package api

import (
	"github.com/soaringjerry/Sondeo/internal/db"
	"github.com/soaringjerry/Sondeo/internal/models"
)

// identity is the caller of a table request; nil means anonymous.
type identity struct {
	uid   string
	admin bool
}

// policy holds the row-level rules of the application tables.
type policy struct {
	// openAdminSignup lets any signed-in user raise their own profile to admin.
	openAdminSignup bool
}

// readScope returns the filters that restrict what id may read. visible is
// false when id can read nothing at all.
func (p policy) readScope(table string, id *identity) (extra []db.Filter, visible bool) {
	if id == nil {
		return nil, false
	}
	switch table {
	case models.TableProfiles:
		if id.admin {
			return nil, true
		}
		return []db.Filter{{Column: "id", Value: id.uid}}, true
	case models.TableAnswers:
		if id.admin {
			return nil, true
		}
		return []db.Filter{{Column: "user_id", Value: id.uid}}, true
	default:
		return nil, true
	}
}

func (p policy) mayBecomeAdmin(id *identity) bool { return id.admin || p.openAdminSignup }

func (p policy) checkInsert(table string, id *identity, rows []db.Row) error {
	if id == nil {
		return errPolicy(table)
	}
	switch table {
	case models.TableProfiles:
		for _, r := range rows {
			if rid, _ := r["id"].(string); rid != id.uid && !id.admin {
				return errPolicy(table)
			}
			if role, _ := r["role"].(string); role == string(models.RoleAdmin) && !p.mayBecomeAdmin(id) {
				return errPolicy(table)
			}
		}
	case models.TableQuestions:
		if !id.admin {
			return errPolicy(table)
		}
	case models.TableAnswers:
		for _, r := range rows {
			if uid, _ := r["user_id"].(string); uid != id.uid {
				return errPolicy(table)
			}
		}
	}
	return nil
}

// updateScope checks an update of values and returns the filters limiting it.
func (p policy) updateScope(table string, id *identity, values db.Row) ([]db.Filter, error) {
	if id == nil || table != models.TableProfiles {
		return nil, errDenied(table)
	}
	if newID, ok := values["id"]; ok && newID != id.uid {
		return nil, errPolicy(table)
	}
	if role, _ := values["role"].(string); role == string(models.RoleAdmin) && !p.mayBecomeAdmin(id) {
		return nil, errPolicy(table)
	}
	if id.admin {
		return nil, nil
	}
	return []db.Filter{{Column: "id", Value: id.uid}}, nil
}

// checkDelete allows admins to delete questions; profiles and answers are never deleted.
func (p policy) checkDelete(table string, id *identity) error {
	if id == nil || !id.admin || table != models.TableQuestions {
		return errDenied(table)
	}
	return nil
}
