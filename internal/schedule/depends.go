package schedule

import "strconv"

// DependencyEdge links a dependent task to the parent task whose completion
// triggers its due date. Derived from template relation text, never stored.
type DependencyEdge struct {
	DependentTaskNumber int
	ParentTaskNumber    int
}

// ExtractParentTaskNumber pulls the parent task number out of an
// "after task N" relation. Only "after" relations create a wait condition;
// "before task N", empty and unrelated text all report no parent.
func ExtractParentTaskNumber(relation string) (int, bool) {
	match := parentTaskPattern.FindStringSubmatch(relation)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Relation holds the minimum a dependency scan needs from a template row.
type Relation struct {
	TaskNumber  int
	DueRelation string
}

// DependencyChain maps each completion-relative template to its parent task
// number.
func DependencyChain(relations []Relation) []DependencyEdge {
	edges := make([]DependencyEdge, 0)
	for _, r := range relations {
		parent, ok := ExtractParentTaskNumber(r.DueRelation)
		if !ok {
			continue
		}
		edges = append(edges, DependencyEdge{
			DependentTaskNumber: r.TaskNumber,
			ParentTaskNumber:    parent,
		})
	}
	return edges
}
