package client

// Navigator performs full-page navigation side effects. Redirect pushes a
// history entry; Replace does not, so a completed callback URL cannot be
// revisited with the back button.
type Navigator interface {
	Redirect(url string)
	Replace(url string)
}

// RecordingNavigator captures navigations instead of performing them.
type RecordingNavigator struct {
	Redirects []string
	Replaces  []string
}

func (n *RecordingNavigator) Redirect(url string) { n.Redirects = append(n.Redirects, url) }
func (n *RecordingNavigator) Replace(url string)  { n.Replaces = append(n.Replaces, url) }

// Last returns the most recent navigation of either kind, or "".
func (n *RecordingNavigator) Last() string {
	if len(n.Replaces) > 0 {
		return n.Replaces[len(n.Replaces)-1]
	}
	if len(n.Redirects) > 0 {
		return n.Redirects[len(n.Redirects)-1]
	}
	return ""
}
