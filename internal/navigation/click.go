package navigation

// LinkInfo is the subset of a clicked anchor's state the navigation
// controller needs to decide whether to intercept it. A host's click
// listener walks up from the event target to the nearest ancestor
// link and fills this in.
type LinkInfo struct {
	Href     string
	Classes  []string
	NoLink   bool   // set if the link or any of its ancestors carries nolink-class
	Target   string // anchor's target attribute, "" or "_self" is default
	Modifier bool   // ctrl/cmd/shift/alt/middle-click: let the browser handle it
	Origin   string // destination origin, empty if same-origin or unparseable
}

// ShouldIntercept implements spec.md §4.H's click interception
// predicate: reject (let the browser handle the click) if the link
// lacks the configured link-class, sits under a nolink-class
// ancestor, targets a non-default frame, was a modifier-click, or
// crosses origin. The second return value classifies why, per §7's
// error kinds, when that's meaningful to a caller; it is "" for every
// rejection reason the browser already handles correctly on its own.
func ShouldIntercept(link LinkInfo, linkClass, currentOrigin string) (bool, Kind) {
	if linkClass != "" && !hasClass(link.Classes, linkClass) {
		return false, ""
	}
	if link.NoLink {
		return false, ""
	}
	if link.Target != "" && link.Target != "_self" {
		return false, ""
	}
	if link.Modifier {
		return false, ""
	}
	if link.Origin != "" && currentOrigin != "" && link.Origin != currentOrigin {
		return false, KindOrigin
	}
	return true, ""
}

func hasClass(classes []string, want string) bool {
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}
