package ax

// ///////////////////////////////////////////////
// Predicates
// ///////////////////////////////////////////////

// Predicate selects elements during a subtree walk.
type Predicate func(Element) bool

// HasRole matches elements whose role is r.
func HasRole(r Role) Predicate {
	return func(e Element) bool { return RoleOf(e) == r }
}

// HasString matches elements whose string attribute name equals value.
// Unreadable attributes never match.
func HasString(name Attribute, value string) Predicate {
	return func(e Element) bool {
		v, ok := String(e, name)
		return ok && v == value
	}
}

// All matches elements that satisfy every predicate. Evaluation stops at the
// first failing predicate, so cheap checks belong first.
func All(preds ...Predicate) Predicate {
	return func(e Element) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// ///////////////////////////////////////////////
// Subtree Walk
// ///////////////////////////////////////////////

// maxDepth bounds recursion so a malformed tree that references an ancestor
// cannot loop forever. Real Xcode windows are well under 60 levels deep.
const maxDepth = 256

// Filter walks the subtree rooted at root in pre-order, root included, and
// returns every element for which match reports true. A child listing that
// fails is treated as empty, pruning that branch. The order of the result is
// deterministic but carries no meaning beyond that.
func Filter(root Element, match Predicate) []Element {
	var out []Element
	walk(root, 0, func(e Element) bool {
		if match(e) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// First returns the first pre-order match under root, stopping the walk as
// soon as one is found.
func First(root Element, match Predicate) (Element, bool) {
	var found Element
	walk(root, 0, func(e Element) bool {
		if match(e) {
			found = e
			return false
		}
		return true
	})
	return found, found != nil
}

// walk visits e and its descendants in pre-order until visit returns false.
// It returns false when the walk was stopped early.
func walk(e Element, depth int, visit func(Element) bool) bool {
	if e == nil || depth > maxDepth {
		return true
	}
	if !visit(e) {
		return false
	}
	for _, c := range Children(e) {
		if !walk(c, depth+1, visit) {
			return false
		}
	}
	return true
}
