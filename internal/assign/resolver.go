// Package assign resolves template assignment rules to concrete users.
package assign

import "strconv"

// Matter is the context an assignment rule resolves against.
type Matter struct {
	ID                      int64
	Location                string
	ResponsibleAttorneyID   int64
	ResponsibleAttorneyName string
}

// Assignee is a resolved user. Resolved is false when no reference row
// matched; the task is still created, unassigned.
type Assignee struct {
	ID       int64
	Name     string
	Resolved bool
}

// Ref is one reference row. The rule decides which set column is consulted.
type Ref struct {
	Rule         string
	UserID       int64
	UserName     string
	Locations    []string
	AttorneyIDs  []int64
	FundTableIDs []int64
}

// Resolver resolves assignment rule tags against reference rows. The VA
// assignee is a single fixed user configured once at startup.
type Resolver struct {
	VA   Assignee
	Refs []Ref
}

// Resolve maps a rule tag to a user. Rules are matched case-sensitively
// against the fixed vocabulary; a bare numeric rule is a literal user id.
// explicitID carries a per-template direct assignment (FUNDING_COOR style)
// and is used verbatim when the rule asks for it.
func (r *Resolver) Resolve(rule string, matter Matter, explicitID *int64) Assignee {
	switch rule {
	case "VA":
		va := r.VA
		va.Resolved = true
		return va
	case "ATTORNEY":
		return Assignee{ID: matter.ResponsibleAttorneyID, Name: matter.ResponsibleAttorneyName, Resolved: true}
	case "CSC":
		return r.lookup("CSC", func(ref Ref) bool {
			return containsString(ref.Locations, matter.Location)
		})
	case "PARALEGAL":
		return r.lookup("PARALEGAL", func(ref Ref) bool {
			return containsInt64(ref.AttorneyIDs, matter.ResponsibleAttorneyID)
		})
	case "FUND_TABLE":
		return r.lookup("FUND_TABLE", func(ref Ref) bool {
			return containsInt64(ref.FundTableIDs, matter.ResponsibleAttorneyID)
		})
	case "FUNDING_COOR":
		if explicitID != nil {
			return Assignee{ID: *explicitID, Resolved: true}
		}
		return Assignee{}
	}
	if id, err := strconv.ParseInt(rule, 10, 64); err == nil {
		return Assignee{ID: id, Resolved: true}
	}
	return Assignee{}
}

func (r *Resolver) lookup(rule string, match func(Ref) bool) Assignee {
	for _, ref := range r.Refs {
		if ref.Rule != rule {
			continue
		}
		if match(ref) {
			return Assignee{ID: ref.UserID, Name: ref.UserName, Resolved: true}
		}
	}
	return Assignee{}
}

func containsString(set []string, value string) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}

func containsInt64(set []int64, value int64) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}
