package main

import (
	"fmt"
	"os"
	"sync"
)

// cliNavigator adapts the session controller's navigation callbacks to a
// terminal. "Routes" become status lines; consent redirects become a URL the
// user opens themselves. It records the last consent URL so the login command
// can run the callback server after Login() returns.
type cliNavigator struct {
	quiet bool

	mu         sync.Mutex
	consentURL string
}

func (n *cliNavigator) ToLanding() {
	statusf(n.quiet, "Signed out.\n")
}

func (n *cliNavigator) ToPortal() {
	statusf(n.quiet, "Signed in.\n")
}

func (n *cliNavigator) ToConsent(url string) {
	n.mu.Lock()
	n.consentURL = url
	n.mu.Unlock()

	// The consent URL must always be visible — not suppressed by --quiet.
	fmt.Fprintf(os.Stderr, "Open this URL in your browser to sign in:\n  %s\n", url)
}

func (n *cliNavigator) Notify(message string) {
	fmt.Fprintf(os.Stderr, "%s\n", message)
}

// ConsentURL returns the last consent URL handed to ToConsent, or "".
func (n *cliNavigator) ConsentURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.consentURL
}
